// Package profile holds the fixed catalogue of conversion recipes and the
// output naming rule derived from each recipe's family and target.
package profile

import (
	"errors"
	"fmt"
)

// ErrUnknownProfile is returned when an identifier matches no catalogue entry.
var ErrUnknownProfile = errors.New("unknown conversion profile")

// ID identifies a conversion profile.
type ID string

const (
	ResolveProRes  ID = "resolve_prores_hq"
	ResolveDNxHR   ID = "resolve_dnxhr_hqx"
	ResolveMJPEG   ID = "resolve_mjpeg"
	ExportWeb      ID = "export_h264_web"
	ExportYouTube  ID = "export_h264_youtube"
	ExportH265     ID = "export_h265"
	MJPEGToH264    ID = "mjpeg_h264_cpu"
	MJPEGToH265    ID = "mjpeg_h265_cpu"
	YouTubeOptimal ID = "youtube_h264_cpu"
)

// Family groups profiles by workflow. It drives output naming.
type Family string

const (
	FamilyResolveImport Family = "resolve_import"
	FamilyResolveExport Family = "resolve_export"
	FamilyGeneric       Family = "generic"
)

// Target is the delivery format a profile encodes to.
type Target string

const (
	TargetProRes      Target = "prores"
	TargetDNxHR       Target = "dnxhr"
	TargetMJPEG       Target = "mjpeg"
	TargetH264Web     Target = "h264_web"
	TargetH264YouTube Target = "h264_youtube"
	TargetH264        Target = "h264"
	TargetH265        Target = "h265"
)

// Profile is an immutable conversion recipe.
//
// Video, Audio and Container hold the software encode path. HWVideo replaces
// Video on the hardware path and is empty when no hardware variant exists;
// audio and container flags are shared so both paths produce the same
// container and audio stream.
type Profile struct {
	ID        ID     `json:"id"`
	Label     string `json:"label"`
	Family    Family `json:"family"`
	Target    Target `json:"target"`
	Extension string `json:"extension"`

	// ThreadControl is set for software encoders that honour -threads.
	ThreadControl bool `json:"threadControl"`

	Video     []string `json:"-"`
	HWVideo   []string `json:"-"`
	Audio     []string `json:"-"`
	Container []string `json:"-"`
}

// HasHardwareVariant reports whether a hardware-accelerated path exists.
func (p Profile) HasHardwareVariant() bool {
	return len(p.HWVideo) > 0
}

var (
	pcmAudio = []string{"-acodec", "pcm_s16le"}

	x264High = []string{
		"-c:v", "libx264", "-preset", "slow", "-crf", "18",
		"-pix_fmt", "yuv420p", "-profile:v", "high", "-level", "4.0",
	}
	nvencHigh = []string{
		"-vf", "format=yuv420p",
		"-c:v", "h264_nvenc", "-preset", "slow", "-profile:v", "high", "-level", "5.1",
		"-rc", "vbr", "-cq", "18",
	}
	faststart = []string{"-movflags", "+faststart"}
)

func aac(bitrate string) []string {
	return []string{"-c:a", "aac", "-b:a", bitrate, "-ar", "48000"}
}

var catalogue = []Profile{
	{
		ID:            ResolveProRes,
		Label:         "H.264/H.265 → ProRes 422 HQ (Davinci Resolve)",
		Family:        FamilyResolveImport,
		Target:        TargetProRes,
		Extension:     "mov",
		ThreadControl: true,
		Video: []string{
			"-c:v", "prores_ks", "-profile:v", "3", "-qscale:v", "11",
			"-vendor", "ap10", "-pix_fmt", "yuv422p10le",
		},
		Audio: pcmAudio,
	},
	{
		ID:        ResolveDNxHR,
		Label:     "H.264/H.265 → DNxHR HQX (Davinci Resolve)",
		Family:    FamilyResolveImport,
		Target:    TargetDNxHR,
		Extension: "mov",
		Video: []string{
			"-c:v", "dnxhd", "-vf", "scale=3840:2160,fps=60,format=yuv422p10le",
			"-b:v", "440M", "-profile:v", "dnxhr_hqx", "-pix_fmt", "yuv422p10le",
		},
		Audio: pcmAudio,
	},
	{
		ID:        ResolveMJPEG,
		Label:     "H.264/H.265 → MJPEG (Davinci Resolve)",
		Family:    FamilyResolveImport,
		Target:    TargetMJPEG,
		Extension: "mov",
		Video:     []string{"-c:v", "mjpeg", "-q:v", "2", "-pix_fmt", "yuvj422p"},
		Audio:     pcmAudio,
	},
	{
		ID:            ExportWeb,
		Label:         "ProRes/DNxHR → H.264 (Web)",
		Family:        FamilyResolveExport,
		Target:        TargetH264Web,
		Extension:     "mp4",
		ThreadControl: true,
		Video:         x264High,
		HWVideo:       nvencHigh,
		Audio:         aac("192k"),
		Container:     faststart,
	},
	{
		ID:            ExportYouTube,
		Label:         "ProRes/DNxHR → H.264 (YouTube)",
		Family:        FamilyResolveExport,
		Target:        TargetH264YouTube,
		Extension:     "mp4",
		ThreadControl: true,
		Video:         x264High,
		HWVideo:       nvencHigh,
		Audio:         aac("320k"),
		Container:     faststart,
	},
	{
		ID:            ExportH265,
		Label:         "ProRes/DNxHR → H.265 (Web/YouTube)",
		Family:        FamilyResolveExport,
		Target:        TargetH265,
		Extension:     "mp4",
		ThreadControl: true,
		Video: []string{
			"-c:v", "libx265", "-preset", "slow", "-crf", "22",
			"-pix_fmt", "yuv420p", "-tag:v", "hvc1",
		},
		Audio:     aac("320k"),
		Container: faststart,
	},
	{
		ID:            MJPEGToH264,
		Label:         "MJPEG → H.264 (libx264 CPU)",
		Family:        FamilyGeneric,
		Target:        TargetH264,
		Extension:     "mp4",
		ThreadControl: true,
		Video: []string{
			"-vf", "yadif", "-codec:v", "libx264", "-preset", "slow", "-crf", "18",
			"-pix_fmt", "yuv420p", "-profile:v", "high", "-level", "4.0",
		},
		Audio:     []string{"-codec:a", "aac", "-b:a", "384k", "-ar", "48000"},
		Container: []string{"-movflags", "faststart"},
	},
	{
		ID:            MJPEGToH265,
		Label:         "MJPEG → H.265 (libx265 CPU)",
		Family:        FamilyGeneric,
		Target:        TargetH265,
		Extension:     "mp4",
		ThreadControl: true,
		Video: []string{
			"-vf", "yadif", "-c:v", "libx265", "-preset", "slow", "-crf", "22",
			"-pix_fmt", "yuv420p", "-tag:v", "hvc1",
		},
		Audio:     aac("384k"),
		Container: []string{"-movflags", "faststart"},
	},
	{
		ID:            YouTubeOptimal,
		Label:         "Optimised YouTube (H.264 CPU libx264)",
		Family:        FamilyGeneric,
		Target:        TargetH264,
		Extension:     "mp4",
		ThreadControl: true,
		Video:         x264High,
		Audio:         aac("320k"),
		Container:     faststart,
	},
}

var byID = func() map[ID]Profile {
	m := make(map[ID]Profile, len(catalogue))
	for _, p := range catalogue {
		m[p.ID] = p
	}
	return m
}()

// Resolve returns the catalogue entry for id.
func Resolve(id ID) (Profile, error) {
	p, ok := byID[id]
	if !ok {
		return Profile{}, fmt.Errorf("%w: %q", ErrUnknownProfile, id)
	}
	return p, nil
}

// All returns the catalogue in display order.
func All() []Profile {
	out := make([]Profile, len(catalogue))
	copy(out, catalogue)
	return out
}

// Default is the profile preselected on first launch.
func Default() Profile {
	return catalogue[0]
}

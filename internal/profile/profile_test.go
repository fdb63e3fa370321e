package profile

import (
	"errors"
	"path/filepath"
	"testing"
)

// TestResolveKnownProfiles verifies every catalogue entry resolves by ID.
func TestResolveKnownProfiles(t *testing.T) {
	for _, p := range All() {
		got, err := Resolve(p.ID)
		if err != nil {
			t.Fatalf("Resolve(%q) error = %v", p.ID, err)
		}
		if got.Label != p.Label {
			t.Fatalf("Resolve(%q) label = %q, want %q", p.ID, got.Label, p.Label)
		}
		if len(got.Video) == 0 || len(got.Audio) == 0 {
			t.Fatalf("profile %q has empty video or audio args", p.ID)
		}
	}
}

// TestResolveUnknownProfile checks the not-found signal.
func TestResolveUnknownProfile(t *testing.T) {
	if _, err := Resolve("vp9_webm"); !errors.Is(err, ErrUnknownProfile) {
		t.Fatalf("error = %v, want %v", err, ErrUnknownProfile)
	}
}

// TestAllReturnsCopy ensures callers cannot reorder the catalogue.
func TestAllReturnsCopy(t *testing.T) {
	list := All()
	list[0] = Profile{ID: "mutated"}
	if All()[0].ID == "mutated" {
		t.Fatal("All() exposed the backing catalogue")
	}
}

// TestHardwareVariants checks which profiles carry an NVENC path.
func TestHardwareVariants(t *testing.T) {
	want := map[ID]bool{ExportWeb: true, ExportYouTube: true}
	for _, p := range All() {
		if p.HasHardwareVariant() != want[p.ID] {
			t.Fatalf("profile %q hardware variant = %v", p.ID, p.HasHardwareVariant())
		}
	}
}

// TestDestinationSuffixes covers the output naming rule for every profile.
func TestDestinationSuffixes(t *testing.T) {
	cases := map[ID]string{
		ResolveProRes:  "clip_ProRes.mov",
		ResolveDNxHR:   "clip_DNxHR.mov",
		ResolveMJPEG:   "clip_MJPEG.mov",
		ExportH265:     "clip_h265.mp4",
		ExportWeb:      "clip_Web.mp4",
		ExportYouTube:  "clip_YT.mp4",
		MJPEGToH264:    "clip_h264.mp4",
		MJPEGToH265:    "clip_h265.mp4",
		YouTubeOptimal: "clip_h264.mp4",
	}
	for id, want := range cases {
		p, err := Resolve(id)
		if err != nil {
			t.Fatalf("Resolve(%q): %v", id, err)
		}
		got := Destination("/out", "/media/in/clip.MP4", p)
		if got != filepath.Join("/out", want) {
			t.Fatalf("%s destination = %q, want %q", id, got, filepath.Join("/out", want))
		}
	}
}

// TestDestinationIsDeterministic confirms same basenames collide by design.
func TestDestinationIsDeterministic(t *testing.T) {
	p := Default()
	a := Destination("/out", "/a/clip1.mp4", p)
	b := Destination("/out", "/b/clip1.mkv", p)
	if a != b {
		t.Fatalf("destinations differ: %q vs %q", a, b)
	}
	if a != filepath.Join("/out", "clip1_ProRes.mov") {
		t.Fatalf("destination = %q", a)
	}
}

// TestDestinationKeepsInnerDots only strips the final extension.
func TestDestinationKeepsInnerDots(t *testing.T) {
	p, _ := Resolve(ExportWeb)
	got := Destination("/out", "/in/take.01.mov", p)
	if got != filepath.Join("/out", "take.01_Web.mp4") {
		t.Fatalf("destination = %q", got)
	}
}

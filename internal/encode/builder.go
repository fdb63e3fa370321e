package encode

import (
	"strconv"

	"media-converter/internal/profile"
)

// Build returns the ffmpeg argument list, without the binary name, that
// converts source into dest under p.
//
// Software path: -i <src> -y [-threads N] <video> <audio> <container> <dest>
// Hardware path: -hide_banner -y -hwaccel cuda -hwaccel_device 0 -i <src>
// <hw video> <audio> <container> <dest>
//
// The hardware path is taken only when hwAccel is true and the profile has a
// hardware variant. -threads is emitted only on the software path of
// profiles whose encoder honours it. Build performs no I/O.
func Build(p profile.Profile, source, dest string, threads int, hwAccel bool) ([]string, error) {
	entry, err := profile.Resolve(p.ID)
	if err != nil {
		return nil, err
	}

	args := make([]string, 0, 40)
	if hwAccel && entry.HasHardwareVariant() {
		args = append(args,
			"-hide_banner", "-y",
			"-hwaccel", "cuda", "-hwaccel_device", "0",
			"-i", source,
		)
		args = append(args, entry.HWVideo...)
	} else {
		args = append(args, "-i", source, "-y")
		if entry.ThreadControl && threads > 0 {
			args = append(args, "-threads", strconv.Itoa(threads))
		}
		args = append(args, entry.Video...)
	}

	args = append(args, entry.Audio...)
	args = append(args, entry.Container...)
	args = append(args, dest)
	return args, nil
}

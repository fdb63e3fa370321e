package profile

import (
	"path/filepath"
	"strings"
)

// Suffix returns the file-name suffix, including the extension, that the
// profile appends to a source basename.
//
//	resolve_import: _ProRes.<ext> | _DNxHR.<ext> | _MJPEG.<ext>
//	resolve_export: _h265.mp4 | _Web.mp4 | _YT.mp4
//	generic:        _h265.mp4 for H.265 targets, _h264.mp4 otherwise
func (p Profile) Suffix() string {
	ext := p.Extension
	if ext == "" {
		ext = "mp4"
	}

	switch p.Family {
	case FamilyResolveImport:
		switch p.Target {
		case TargetProRes:
			return "_ProRes." + ext
		case TargetDNxHR:
			return "_DNxHR." + ext
		case TargetMJPEG:
			return "_MJPEG." + ext
		}
	case FamilyResolveExport:
		switch p.Target {
		case TargetH265:
			return "_h265.mp4"
		case TargetH264Web:
			return "_Web.mp4"
		case TargetH264YouTube:
			return "_YT.mp4"
		}
	}

	if p.Target == TargetH265 {
		return "_h265.mp4"
	}
	return "_h264.mp4"
}

// Destination computes the output path for source under destDir. The result
// depends only on the source basename and the profile, so two sources with
// the same basename map to the same destination.
func Destination(destDir, source string, p Profile) string {
	base := filepath.Base(source)
	name := strings.TrimSuffix(base, filepath.Ext(base))
	return filepath.Join(destDir, name+p.Suffix())
}

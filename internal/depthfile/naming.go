package depthfile

// Paths names the pair of files a capture produces.
type Paths struct {
	Color string `json:"color"`
	Depth string `json:"depth"`
}

// Container and still extensions for the color half of a capture.
const (
	VideoExtension = ".mp4"
	StillExtension = ".jpg"
)

// RecordingPaths returns "<base>_rgb.mp4" and "<base>_depth.idep". base is
// the caller-chosen directory and capture name.
func RecordingPaths(base string) Paths {
	return Paths{
		Color: base + "_rgb" + VideoExtension,
		Depth: base + "_depth" + Extension,
	}
}

// PhotoPaths returns "<base>_photo_rgb.<ext>" and "<base>_photo_depth.idep".
// An empty ext selects StillExtension.
func PhotoPaths(base, ext string) Paths {
	if ext == "" {
		ext = StillExtension
	}
	return Paths{
		Color: base + "_photo_rgb" + ext,
		Depth: base + "_photo_depth" + Extension,
	}
}

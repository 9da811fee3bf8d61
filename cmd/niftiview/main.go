package main

import (
	"bufio"
	"flag"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"log"
	"os"
	"path/filepath"
	"sync"

	"niftiview/internal/models"
	"niftiview/pkg/config"
	"niftiview/pkg/nifti"
	"niftiview/pkg/orientation"
	"niftiview/pkg/render"
)

func main() {
	// Parse command line arguments
	inputFile := flag.String("file", "", "Path to the .nii or .nii.gz volume to view")
	outputDir := flag.String("out", "", "Directory for the rendered plane images (default from config)")
	configPath := flag.String("config", "niftiview.yaml", "Path to the viewer configuration file")
	width := flag.Int("width", 0, "Destination surface width in pixels (overrides config)")
	height := flag.Int("height", 0, "Destination surface height in pixels (overrides config)")
	contrast := flag.Float64("contrast", 0, "Contrast factor, neutral 1 (overrides config)")
	brightness := flag.Float64("brightness", 0, "Additive brightness offset (overrides config)")
	axialMM := flag.Float64("axial-mm", 0, "Axial slice position in mm (default: volume center)")
	coronalMM := flag.Float64("coronal-mm", 0, "Coronal slice position in mm (default: volume center)")
	sagittalMM := flag.Float64("sagittal-mm", 0, "Sagittal slice position in mm (default: volume center)")
	flag.Parse()

	// Validate inputs
	if *inputFile == "" {
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if *width > 0 {
		cfg.Display.Width = *width
	}
	if *height > 0 {
		cfg.Display.Height = *height
	}
	if *contrast > 0 {
		cfg.Display.Contrast = *contrast
	}
	if flagWasSet("brightness") {
		cfg.Display.Brightness = *brightness
	}
	if *outputDir != "" {
		cfg.Output.Dir = *outputDir
	}

	// Load the volume and resolve its anatomical orientation once.
	// Nothing renders until both have completed.
	vol, err := nifti.Load(*inputFile)
	if err != nil {
		log.Fatalf("Failed to load volume: %v", err)
	}

	orient, err := orientation.Resolve(vol.Affine, vol.Dims, vol.Pixdim)
	if err != nil {
		log.Fatalf("Failed to resolve orientation: %v", err)
	}

	fmt.Printf("Loaded %s\n", filepath.Base(*inputFile))
	fmt.Printf("Voxel grid: %d x %d x %d, spacing %.2f x %.2f x %.2f mm\n",
		vol.Dims[0], vol.Dims[1], vol.Dims[2],
		vol.Pixdim[0], vol.Pixdim[1], vol.Pixdim[2])
	fmt.Printf("RAS extents: R=%d A=%d S=%d, intensity range [%g, %g]\n",
		orient.RASSize[0], orient.RASSize[1], orient.RASSize[2],
		vol.MinValue, vol.MaxValue)

	// One view per plane, each centered on the volume and owning its
	// own rasterizer caches so the three renders can run concurrently.
	views := []*render.View{
		render.NewView(render.Axial),
		render.NewView(render.Coronal),
		render.NewView(render.Sagittal),
	}
	positions := map[render.Plane]struct {
		set bool
		mm  float64
	}{
		render.Axial:    {flagWasSet("axial-mm"), *axialMM},
		render.Coronal:  {flagWasSet("coronal-mm"), *coronalMM},
		render.Sagittal: {flagWasSet("sagittal-mm"), *sagittalMM},
	}
	for _, v := range views {
		v.Center(orient)
		if pos := positions[v.Plane]; pos.set {
			v.SetPositionMM(orient, pos.mm)
		}
		v.SetContrast(cfg.Display.Contrast)
		v.SetBrightness(cfg.Display.Brightness)
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		log.Fatalf("Failed to create output directory: %v", err)
	}

	// Render the three planes in parallel. The volume and orientation
	// are read-only and shared; each view owns its mutable state.
	var wg sync.WaitGroup
	errs := make([]error, len(views))
	for n, v := range views {
		wg.Add(1)
		go func(n int, v *render.View) {
			defer wg.Done()
			errs[n] = renderAndSave(v, vol, orient, cfg)
		}(n, v)
	}
	wg.Wait()

	for _, err := range errs {
		if err != nil {
			log.Fatalf("Rendering failed: %v", err)
		}
	}

	fmt.Println("\nRendered planes:")
	axisLabel := [3]string{"X", "Y", "Z"}
	for _, v := range views {
		fmt.Printf("  %-8s  %s = %+.1f mm (slice %d of %d)\n",
			v.Plane, axisLabel[v.Plane.SliceAxis()],
			v.PositionMM(orient), v.SliceIndex(),
			orient.RASSize[v.Plane.SliceAxis()])
	}
	fmt.Printf("Output written to: %s\n", cfg.Output.Dir)
}

// renderAndSave rasterizes one view at the configured size and encodes
// it into the output directory as <plane>.<format>.
func renderAndSave(v *render.View, vol *models.Volume, orient *orientation.Orientation, cfg *config.Config) error {
	img, err := v.Render(vol, orient, cfg.Display.Width, cfg.Display.Height)
	if err != nil {
		return fmt.Errorf("rendering %s plane: %w", v.Plane, err)
	}
	return saveImage(img, filepath.Join(cfg.Output.Dir, v.Plane.String()), cfg)
}

// saveImage encodes img under base with the configured format.
func saveImage(img image.Image, base string, cfg *config.Config) error {
	switch cfg.Output.Format {
	case "jpeg", "jpg":
		return writeImage(base+".jpg", func(w *bufio.Writer) error {
			return jpeg.Encode(w, img, &jpeg.Options{Quality: cfg.Output.JPEGQuality})
		})
	case "png", "":
		return writeImage(base+".png", func(w *bufio.Writer) error {
			return png.Encode(w, img)
		})
	}
	return fmt.Errorf("unknown output format %q", cfg.Output.Format)
}

func writeImage(path string, encode func(*bufio.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := encode(w); err != nil {
		return err
	}
	return w.Flush()
}

// flagWasSet reports whether the named flag appeared on the command
// line, so that zero is usable as an explicit value.
func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

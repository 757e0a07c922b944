// Command ggif encodes, decodes and inspects GIF animations from the
// command line.
//
// Usage:
//
//	ggif enc [options] <input>...      PNG/JPEG/GIF/WebP → GIF (use "-" for stdin)
//	ggif dec [options] <input.gif>     GIF → PNG per frame (use "-" for stdin, -o - for stdout)
//	ggif info <input.gif>              Display the GIF record structure
//	ggif remux [options] <input.gif>   Rewrite loop count and comments without re-encoding
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/disintegration/imaging"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/webp"

	"github.com/deepteams/gif"
	"github.com/deepteams/gif/animation"
	"github.com/deepteams/gif/dither"
	"github.com/deepteams/gif/mux"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	var err error
	switch os.Args[1] {
	case "enc":
		err = runEnc(ctx, os.Args[2:])
	case "dec":
		err = runDec(ctx, os.Args[2:])
	case "info":
		err = runInfo(os.Args[2:])
	case "remux":
		err = runRemux(os.Args[2:])
	case "-h", "-help", "--help", "help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "ggif: unknown command %q\n\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "ggif: %v\n", err)
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage:
  ggif enc [options] <input>...      Encode PNG/JPEG/GIF/WebP frames to GIF
  ggif dec [options] <input.gif>     Decode GIF frames to PNG
  ggif info <input.gif>              Display the GIF record structure
  ggif remux [options] <input.gif>   Change loop count and comments

Use "-" as input to read from stdin, "-o -" to write to stdout.

Run "ggif <command> -h" for command-specific options.
`)
}

// openInput returns an io.ReadCloser for the given path.
// If path is "-", stdin is returned (caller should not close).
func openInput(path string) (io.ReadCloser, error) {
	if path == "-" {
		return io.NopCloser(os.Stdin), nil
	}
	return os.Open(path)
}

// outputName derives an output path from the input path and ext.
func outputName(inputPath, ext string) string {
	if inputPath == "-" {
		return "output" + ext
	}
	return strings.TrimSuffix(filepath.Base(inputPath), filepath.Ext(inputPath)) + ext
}

// writeOutput creates path (or uses stdout for "-") and runs fn on it.
// A partially written file is removed when fn fails.
func writeOutput(path string, fn func(io.Writer) error) error {
	if path == "-" {
		return fn(os.Stdout)
	}
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := fn(out); err != nil {
		out.Close()
		os.Remove(path)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(path)
		return err
	}
	return nil
}

// setupLogger installs a text logger on stderr when verbose is set.
func setupLogger(verbose bool) {
	if !verbose {
		gif.SetLogger(nil)
		return
	}
	gif.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
}

// --- enc ---

// encConfig holds the encoder defaults. It can be loaded from a JSON file;
// flags given on the command line override it.
type encConfig struct {
	Delay       int     `json:"delay"` // milliseconds per still frame
	Loop        int     `json:"loop"`  // -1 plays once, 0 loops forever
	Interlace   bool    `json:"interlace"`
	Preserve    bool    `json:"preserve"`
	FixDuration bool    `json:"fix_duration"`
	Dither      string  `json:"dither"`
	Matrix      int     `json:"matrix"`
	Factor      float64 `json:"factor"`
	ZigZag      bool    `json:"zigzag"`
	Quant       string  `json:"quant"`
	Fit         string  `json:"fit"`
	Scale       float64 `json:"scale"`
	Verbose     bool    `json:"verbose"`
}

func defaultEncConfig() encConfig {
	return encConfig{Delay: 100, Dither: "none", Matrix: 8, Factor: 1, Quant: "octree", Scale: 1}
}

const defaultConfigFile = "ggif.json"

// loadConfig decodes path into cfg. A missing default file is not an
// error.
func loadConfig(path string, explicit bool, cfg *encConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if !explicit && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("config: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config %s: %w", path, err)
	}
	return nil
}

func runEnc(ctx context.Context, args []string) error {
	cfg := defaultEncConfig()
	fs := flag.NewFlagSet("enc", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigFile, "JSON file with encoder defaults")
	fs.IntVar(&cfg.Delay, "delay", cfg.Delay, "frame delay in milliseconds for still inputs")
	fs.IntVar(&cfg.Loop, "loop", cfg.Loop, "loop count (0=infinite, -1=play once)")
	fs.BoolVar(&cfg.Interlace, "interlace", cfg.Interlace, "write interlaced images")
	fs.BoolVar(&cfg.Preserve, "preserve", cfg.Preserve, "keep the palette order of indexed input")
	fs.BoolVar(&cfg.FixDuration, "fixdur", cfg.FixDuration, "shorten the last frame and raise delays to 20ms")
	fs.StringVar(&cfg.Dither, "dither", cfg.Dither, "dithering: none/ordered/old/fs/jjn/stucki/atkinson/burkes/sierra")
	fs.IntVar(&cfg.Matrix, "matrix", cfg.Matrix, "Bayer matrix size for ordered dithering: 2/4/8")
	fs.Float64Var(&cfg.Factor, "factor", cfg.Factor, "dithering strength 0-1")
	fs.BoolVar(&cfg.ZigZag, "zigzag", cfg.ZigZag, "serpentine scan for error diffusion")
	fs.StringVar(&cfg.Quant, "quant", cfg.Quant, "palette generation: octree/rgb5a3/mediancut")
	fs.StringVar(&cfg.Fit, "fit", cfg.Fit, "fit frames inside WxH, keeping the aspect ratio")
	fs.Float64Var(&cfg.Scale, "scale", cfg.Scale, "scale factor applied to every frame")
	fs.BoolVar(&cfg.Verbose, "v", cfg.Verbose, "log codec diagnostics to stderr")
	output := fs.String("o", "", `output path (default: <input>.gif, "-" for stdout)`)

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("enc: missing input file\nUsage: ggif enc [options] <input>...")
	}

	// Values from the config file apply unless the flag was given.
	set := map[string]string{}
	configGiven := false
	fs.Visit(func(f *flag.Flag) {
		set[f.Name] = f.Value.String()
		configGiven = configGiven || f.Name == "config"
	})
	if err := loadConfig(*configPath, configGiven, &cfg); err != nil {
		return fmt.Errorf("enc: %w", err)
	}
	for name, v := range set {
		if err := fs.Set(name, v); err != nil {
			return err
		}
	}
	setupLogger(cfg.Verbose)

	opts, err := cfg.encodeOptions()
	if err != nil {
		return fmt.Errorf("enc: %w", err)
	}

	inputs := fs.Args()
	anim, err := loadAnimation(ctx, inputs, time.Duration(cfg.Delay)*time.Millisecond)
	if err != nil {
		return fmt.Errorf("enc: %w", err)
	}
	if anim, err = resizeAnimation(anim, cfg.Fit, cfg.Scale); err != nil {
		return fmt.Errorf("enc: %w", err)
	}

	outputPath := *output
	if outputPath == "" {
		outputPath = outputName(inputs[0], ".gif")
	}
	var n int64
	err = writeOutput(outputPath, func(w io.Writer) error {
		cw := &countingWriter{w: w}
		err := gif.EncodeAll(ctx, cw, anim, opts)
		n = cw.n
		return err
	})
	if err != nil {
		return fmt.Errorf("enc: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Encoded %s → %s (%d frames, %d bytes)\n", strings.Join(inputs, ", "), outputPath, len(anim.Frames), n)
	return nil
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}

// encodeOptions turns the configuration into encoder options.
func (c encConfig) encodeOptions() (*gif.Options, error) {
	opts := gif.DefaultOptions()
	opts.Loop = c.Loop >= 0
	opts.LoopCount = max(c.Loop, 0)
	opts.Interlaced = c.Interlace
	opts.PreservePaletteOrder = c.Preserve
	opts.FixLastFrameDuration = c.FixDuration

	q, err := animation.ParseQuantization(c.Quant)
	if err != nil {
		return nil, err
	}
	opts.Quantization = q

	d, err := parseDither(c.Dither, c.Matrix, c.Factor, c.ZigZag)
	if err != nil {
		return nil, err
	}
	opts.Dithering = d
	return opts, nil
}

var diffusionFlags = map[string]dither.DiffusionKind{
	"fs":       dither.FloydSteinberg,
	"jjn":      dither.JarvisJudiceNinke,
	"stucki":   dither.Stucki,
	"atkinson": dither.Atkinson,
	"burkes":   dither.Burkes,
	"sierra":   dither.Sierra,
}

func parseDither(name string, matrix int, factor float64, zigzag bool) (dither.Dithering, error) {
	if factor < 0 || factor > 1 {
		return dither.Dithering{}, fmt.Errorf("dither factor %v out of range 0-1", factor)
	}
	switch name := strings.ToLower(name); name {
	case "", "none":
		return dither.Dithering{}, nil
	case "ordered", "old":
		m, err := dither.Bayer(matrix)
		if err != nil {
			return dither.Dithering{}, err
		}
		kind := dither.Ordered2Kind
		if name == "old" {
			kind = dither.OrderedKind
		}
		return dither.Dithering{Kind: kind, Matrix: m, Factor: factor}, nil
	default:
		k, ok := diffusionFlags[name]
		if !ok {
			return dither.Dithering{}, fmt.Errorf("unknown dither %q", name)
		}
		return dither.Dithering{Kind: dither.ErrorDiffusionKind, Diffusion: k, Factor: factor, ZigZag: zigzag}, nil
	}
}

// loadAnimation reads the inputs. A single GIF keeps its frames and
// timing; anything else becomes one frame per input shown for delay.
func loadAnimation(ctx context.Context, inputs []string, delay time.Duration) (*animation.Animation, error) {
	var imgs []image.Image
	for _, path := range inputs {
		in, err := openInput(path)
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(in)
		in.Close()
		if err != nil {
			return nil, fmt.Errorf("reading %s: %w", path, err)
		}
		if len(inputs) == 1 && bytes.HasPrefix(data, []byte("GIF8")) {
			return gif.DecodeAll(ctx, bytes.NewReader(data), nil)
		}
		img, _, err := image.Decode(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("decoding %s: %w", path, err)
		}
		imgs = append(imgs, img)
	}
	return gif.FromImages(imgs, delay)
}

// resizeAnimation applies -fit and -scale. Resized frames lose their
// palette indexes, so the result is an RGB animation.
func resizeAnimation(a *animation.Animation, fit string, scale float64) (*animation.Animation, error) {
	if fit == "" && scale == 1 {
		return a, nil
	}
	if scale <= 0 {
		return nil, fmt.Errorf("invalid scale %v", scale)
	}
	var fitW, fitH int
	if fit != "" {
		var err error
		if fitW, fitH, err = parseSize(fit); err != nil {
			return nil, err
		}
	}

	imgs := make([]image.Image, len(a.Frames))
	for i := range a.Frames {
		img, err := a.RenderFrame(i)
		if err != nil {
			return nil, err
		}
		var out image.Image = img
		if fit != "" {
			out = imaging.Fit(out, fitW, fitH, imaging.Lanczos)
		}
		if scale != 1 {
			b := out.Bounds()
			dst := image.NewNRGBA(image.Rect(0, 0, max(1, int(float64(b.Dx())*scale)), max(1, int(float64(b.Dy())*scale))))
			draw.CatmullRom.Scale(dst, dst.Rect, out, b, draw.Src, nil)
			out = dst
		}
		imgs[i] = out
	}

	r, err := gif.FromImages(imgs, 0)
	if err != nil {
		return nil, err
	}
	for i := range r.Frames {
		r.Frames[i].Duration = a.Frames[i].Duration
	}
	r.LoopCount = a.LoopCount
	return r, nil
}

// parseSize parses "WxH".
func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q (want WxH)", s)
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid size %q (want WxH)", s)
	}
	return w, h, nil
}

// --- dec ---

func runDec(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("dec", flag.ContinueOnError)
	output := fs.String("o", "", `output path (default: <input>.png, "-" for stdout)`)
	all := fs.Bool("all", false, "write every frame as <output>_NNN.png")
	verbose := fs.Bool("v", false, "log codec diagnostics to stderr")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("dec: missing input file\nUsage: ggif dec [options] <input.gif>")
	}
	setupLogger(*verbose)
	inputPath := fs.Arg(0)

	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	defer in.Close()

	anim, err := gif.DecodeAll(ctx, in, &animation.DecodeOptions{OneFrame: !*all})
	if err != nil {
		return fmt.Errorf("dec: %w", err)
	}

	outputPath := *output
	if outputPath == "" {
		outputPath = outputName(inputPath, ".png")
	}
	if !*all || outputPath == "-" {
		img, err := anim.RenderFrame(0)
		if err != nil {
			return fmt.Errorf("dec: %w", err)
		}
		if err := writeOutput(outputPath, func(w io.Writer) error {
			return imaging.Encode(w, img, imaging.PNG)
		}); err != nil {
			return fmt.Errorf("dec: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Decoded %s → %s\n", inputPath, outputPath)
		return nil
	}

	base := strings.TrimSuffix(outputPath, filepath.Ext(outputPath))
	for i := range anim.Frames {
		img, err := anim.RenderFrame(i)
		if err != nil {
			return fmt.Errorf("dec: frame %d: %w", i, err)
		}
		path := fmt.Sprintf("%s_%03d.png", base, i)
		if err := imaging.Save(img, path); err != nil {
			return fmt.Errorf("dec: %w", err)
		}
	}
	fmt.Fprintf(os.Stderr, "Decoded %s → %s_*.png (%d frames)\n", inputPath, base, len(anim.Frames))
	return nil
}

// --- info ---

func runInfo(args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("info: missing input file\nUsage: ggif info <input.gif>")
	}
	inputPath := args[0]

	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("info: reading input: %w", err)
	}

	d, err := mux.NewDemuxer(data)
	if err != nil {
		return fmt.Errorf("info: %w", err)
	}
	feat := d.GetFeatures()

	name := inputPath
	if inputPath == "-" {
		name = "<stdin>"
	}
	fmt.Printf("File:         %s\n", name)
	fmt.Printf("Version:      GIF%s\n", feat.Version)
	fmt.Printf("Dimensions:   %d x %d\n", feat.Width, feat.Height)
	fmt.Printf("Global table: %d colors\n", feat.GlobalColors)
	fmt.Printf("Transparency: %v\n", feat.HasTransparency)
	fmt.Printf("Frames:       %d\n", feat.FrameCount)
	switch loop := d.LoopCount(); {
	case loop == 0:
		fmt.Printf("Loop count:   infinite\n")
	case loop > 0:
		fmt.Printf("Loop count:   %d\n", loop)
	}
	for _, c := range d.Comments() {
		fmt.Printf("Comment:      %q\n", c)
	}

	it := d.NewFrameIterator()
	for i := 0; it.HasNext(); i++ {
		f, err := it.Next()
		if err != nil {
			return fmt.Errorf("info: %w", err)
		}
		fmt.Printf("  #%-3d %-18v delay=%dms disposal=%s", i, f.Bounds, f.Duration, animation.DisposalMethod(f.Disposal))
		if f.LocalColors > 0 {
			fmt.Printf(" local=%d", f.LocalColors)
		}
		if f.HasTransparency() {
			fmt.Printf(" transparent=%d", f.TransparentIndex)
		}
		if f.Interlaced {
			fmt.Printf(" interlaced")
		}
		fmt.Println()
	}
	fmt.Printf("File size:    %d bytes\n", len(data))
	return nil
}

// --- remux ---

func runRemux(args []string) error {
	fs := flag.NewFlagSet("remux", flag.ContinueOnError)
	output := fs.String("o", "", `output path (default: <input>_remux.gif, "-" for stdout)`)
	loop := fs.Int("loop", -2, "new loop count (0=infinite, -1=remove the loop extension)")
	comment := fs.String("comment", "", "append a comment extension")
	strip := fs.Bool("strip", false, "drop existing comments")
	delay := fs.Int("delay", 0, "set every frame delay in milliseconds (0=keep)")

	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() < 1 {
		return fmt.Errorf("remux: missing input file\nUsage: ggif remux [options] <input.gif>")
	}
	inputPath := fs.Arg(0)

	in, err := openInput(inputPath)
	if err != nil {
		return err
	}
	data, err := io.ReadAll(in)
	in.Close()
	if err != nil {
		return fmt.Errorf("remux: reading input: %w", err)
	}
	d, err := mux.NewDemuxer(data)
	if err != nil {
		return fmt.Errorf("remux: %w", err)
	}

	m := mux.FromDemuxer(d)
	switch {
	case *loop == -1:
		m.ClearLoop()
	case *loop >= 0:
		m.SetLoopCount(*loop)
	}
	if *strip {
		m.ClearComments()
	}
	if *comment != "" {
		m.AddComment(*comment)
	}
	if *delay > 0 {
		for i := 0; i < m.NumFrames(); i++ {
			m.SetFrameDuration(i, *delay)
		}
	}

	outputPath := *output
	if outputPath == "" {
		outputPath = outputName(inputPath, "_remux.gif")
	}
	if err := writeOutput(outputPath, m.Assemble); err != nil {
		return fmt.Errorf("remux: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Remuxed %s → %s (%d frames)\n", inputPath, outputPath, m.NumFrames())
	return nil
}

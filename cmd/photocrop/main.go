package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"image"
	"image/color"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"

	"github.com/disintegration/imaging"
	"go.uber.org/zap"

	"github.com/menta2k/photocrop"
	"github.com/menta2k/photocrop/internal/config"
	"github.com/menta2k/photocrop/internal/logging"
	"github.com/menta2k/photocrop/pkg/cropper"
	"github.com/menta2k/photocrop/pkg/session"
	"github.com/menta2k/photocrop/pkg/types"
)

// Exit codes
const (
	exitOK       = 0
	exitError    = 1
	exitCanceled = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func usage(w io.Writer) {
	name := filepath.Base(os.Args[0])
	fmt.Fprintf(w, "usage:\n")
	fmt.Fprintf(w, "  %s probe -in image.jpg|URL\n", name)
	fmt.Fprintf(w, "  %s crop -in image.jpg|URL [-out out.jpg] [-aspect square|W:H] [-circle] [-max 1024x768]\n", name)
	fmt.Fprintf(w, "       [-rect x,y,w,h] [-move dx,dy] [-focus none|saliency|smartcrop|faces|model] [-overlay overlay.png]\n")
	fmt.Fprintf(w, "       [-format jpg|png|webp] [-quality 90] [-lossless] [-highlight ffcc00]\n")
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		usage(stderr)
		return exitError
	}
	switch args[0] {
	case "probe":
		return runProbe(ctx, args[1:], stdout, stderr)
	case "crop":
		return runCrop(ctx, args[1:], stdout, stderr)
	case "version":
		fmt.Fprintln(stdout, photocrop.GetVersion())
		return exitOK
	default:
		usage(stderr)
		return exitError
	}
}

// commonFlags are shared by every subcommand
type commonFlags struct {
	in         string
	configPath string
	logLevel   string
}

func (c *commonFlags) register(fs *flag.FlagSet) {
	fs.StringVar(&c.in, "in", "", "input image path, file:// URI or http(s) URL")
	fs.StringVar(&c.configPath, "config", config.GetConfigPath(), "configuration file")
	fs.StringVar(&c.logLevel, "log", "", "log level: debug|info|warn|error")
}

func (c *commonFlags) setup(stderr io.Writer) (*config.Config, *zap.Logger, error) {
	if c.in == "" {
		usage(stderr)
		return nil, nil, errors.New("missing -in")
	}
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, nil, err
	}
	if c.logLevel != "" {
		cfg.Log.Level = c.logLevel
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

func runProbe(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("probe", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	cfg, logger, err := common.setup(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer logger.Sync()
	cfg.Focus.Backend = "none"

	pc, err := photocrop.New(cfg, logger)
	if err != nil {
		logger.Error("setup failed", zap.Error(err))
		return exitError
	}
	defer pc.Close()

	s, err := pc.Open(ctx, types.CropOptions{Source: common.in})
	if err != nil {
		return exitFor(ctx, err, logger)
	}
	defer s.Close()

	src := s.Source()
	preview := s.Preview().Bounds()
	out := map[string]any{
		"source":         src.Locator,
		"format":         src.Format,
		"width":          src.Width,
		"height":         src.Height,
		"orientation":    src.Orientation,
		"rotation":       src.Rotation,
		"sample_size":    src.SampleSize,
		"preview_width":  preview.Dx(),
		"preview_height": preview.Dy(),
	}
	js, _ := json.MarshalIndent(out, "", "  ")
	fmt.Fprintln(stdout, string(js))
	return exitOK
}

func runCrop(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("crop", flag.ContinueOnError)
	fs.SetOutput(stderr)
	var common commonFlags
	common.register(fs)

	var out, aspect, maxSize, rect, move, focusBackend, overlay, format, highlight string
	var quality int
	var circle, lossless bool
	fs.StringVar(&out, "out", "", "destination file (default: <output_dir>/crop_<uuid>.<ext>)")
	fs.StringVar(&aspect, "aspect", "free", "aspect ratio: free|square|portrait|landscape|widescreen|instagram|story|W:H")
	fs.BoolVar(&circle, "circle", false, "circular crop (forces 1:1)")
	fs.StringVar(&maxSize, "max", "", "maximum output size WxH, either side may be 0")
	fs.StringVar(&rect, "rect", "", "crop rectangle x,y,w,h in full-resolution upright pixels")
	fs.StringVar(&move, "move", "", "translate the rectangle by dx,dy preview pixels")
	fs.StringVar(&focusBackend, "focus", "", "focus backend, overrides the config")
	fs.StringVar(&overlay, "overlay", "", "write the preview with the crop highlighted to this file")
	fs.StringVar(&format, "format", "", "output format: jpg|png|webp")
	fs.IntVar(&quality, "quality", 0, "JPEG/WebP quality (1-100)")
	fs.BoolVar(&lossless, "lossless", false, "WebP lossless mode")
	fs.StringVar(&highlight, "highlight", "", "overlay highlight color as hex RRGGBB")
	if err := fs.Parse(args); err != nil {
		return exitError
	}

	opts := types.CropOptions{
		Source:      common.in,
		Destination: out,
		Circular:    circle,
		Quality:     quality,
		Lossless:    lossless,
	}
	ratio, err := cropper.ParseAspect(aspect)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	opts.AspectX, opts.AspectY = ratio.Width, ratio.Height
	if maxSize != "" {
		if opts.MaxWidth, opts.MaxHeight, err = parseSize(maxSize); err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}
	}
	if format != "" {
		f, ok := types.ParseOutputFormat(format)
		if !ok {
			fmt.Fprintf(stderr, "unsupported format: %s\n", format)
			return exitError
		}
		opts.Format = f
	}
	if highlight != "" {
		if opts.Highlight, err = parseHex(highlight); err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}
	}

	cfg, logger, err := common.setup(stderr)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return exitError
	}
	defer logger.Sync()
	if focusBackend != "" {
		cfg.Focus.Backend = focusBackend
	}

	pc, err := photocrop.New(cfg, logger)
	if err != nil {
		logger.Error("setup failed", zap.Error(err))
		return exitError
	}
	defer pc.Close()

	s, err := pc.Open(ctx, opts)
	if err != nil {
		return exitFor(ctx, err, logger)
	}
	defer s.Close()

	if rect != "" {
		r, err := parseRect(rect)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}
		sample := s.Source().SampleSize
		preview := image.Rect(r.Min.X/sample, r.Min.Y/sample, ceilDiv(r.Max.X, sample), ceilDiv(r.Max.Y, sample))
		if _, err := s.Select(preview); err != nil {
			logger.Error("select failed", zap.Error(err))
			return exitError
		}
	}
	if move != "" {
		dx, dy, err := parsePair(move)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return exitError
		}
		if _, err := s.Apply(cropper.Move{DX: dx, DY: dy}); err != nil {
			logger.Error("move failed", zap.Error(err))
			return exitError
		}
	}

	if overlay != "" {
		img, err := s.Overlay()
		if err == nil {
			err = imaging.Save(img, overlay)
		}
		if err != nil {
			logger.Warn("overlay not written", zap.String("path", overlay), zap.Error(err))
		} else {
			logger.Info("wrote overlay", zap.String("path", overlay))
		}
	}

	logger.Debug("committing", zap.Stringer("rect", s.NativeRect()))
	if err := s.Commit(ctx); err != nil {
		logger.Error("commit rejected", zap.Error(err))
		return exitError
	}
	res, err := s.Wait(ctx)
	if err != nil {
		logger.Info("canceled while waiting for the crop")
		return exitCanceled
	}

	switch res.Status {
	case session.StatusOK:
		fmt.Fprintln(stdout, res.Destination)
		return exitOK
	case session.StatusCanceled:
		return exitCanceled
	default:
		logger.Error("crop failed", zap.Stringer("kind", res.Kind), zap.Error(res.Err))
		return exitError
	}
}

func exitFor(ctx context.Context, err error, logger *zap.Logger) int {
	if ctx.Err() != nil {
		logger.Info("canceled")
		return exitCanceled
	}
	logger.Error("cannot open source", zap.Stringer("kind", types.KindOf(err)), zap.Error(err))
	return exitError
}

// parseSize parses "WxH"
func parseSize(s string) (int, int, error) {
	w, h, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q, want WxH", s)
	}
	mw, err1 := strconv.Atoi(w)
	mh, err2 := strconv.Atoi(h)
	if err1 != nil || err2 != nil || mw < 0 || mh < 0 {
		return 0, 0, fmt.Errorf("invalid size %q, want WxH", s)
	}
	return mw, mh, nil
}

// parsePair parses "a,b"
func parsePair(s string) (int, int, error) {
	a, b, ok := strings.Cut(s, ",")
	if !ok {
		return 0, 0, fmt.Errorf("invalid pair %q, want a,b", s)
	}
	x, err1 := strconv.Atoi(strings.TrimSpace(a))
	y, err2 := strconv.Atoi(strings.TrimSpace(b))
	if err1 != nil || err2 != nil {
		return 0, 0, fmt.Errorf("invalid pair %q, want a,b", s)
	}
	return x, y, nil
}

// parseRect parses "x,y,w,h"
func parseRect(s string) (image.Rectangle, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 4 {
		return image.Rectangle{}, fmt.Errorf("invalid rect %q, want x,y,w,h", s)
	}
	var v [4]int
	for i, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return image.Rectangle{}, fmt.Errorf("invalid rect %q, want x,y,w,h", s)
		}
		v[i] = n
	}
	if v[2] <= 0 || v[3] <= 0 {
		return image.Rectangle{}, fmt.Errorf("rect %q has no area", s)
	}
	return image.Rect(v[0], v[1], v[0]+v[2], v[1]+v[3]), nil
}

// parseHex parses "RRGGBB" with an optional leading #
func parseHex(s string) (color.NRGBA, error) {
	s = strings.TrimPrefix(s, "#")
	if len(s) != 6 {
		return color.NRGBA{}, fmt.Errorf("invalid color %q, want RRGGBB", s)
	}
	v, err := strconv.ParseUint(s, 16, 32)
	if err != nil {
		return color.NRGBA{}, fmt.Errorf("invalid color %q, want RRGGBB", s)
	}
	return color.NRGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 255}, nil
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

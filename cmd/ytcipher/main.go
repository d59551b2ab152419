package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli/v2"

	"github.com/ytget/ytcipher"
	"github.com/ytget/ytcipher/internal/logger"
	"github.com/ytget/ytcipher/internal/store"
	"github.com/ytget/ytcipher/pkg/client"
	"github.com/ytget/ytcipher/types"
	"github.com/ytget/ytcipher/youtube/cipher"
	"github.com/ytget/ytcipher/youtube/formats"
)

var (
	okColor   = color.New(color.FgGreen)
	keyColor  = color.New(color.FgCyan)
	warnColor = color.New(color.FgYellow)
	errColor  = color.New(color.FgRed, color.Bold)
)

func main() {
	app := newApp()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := app.RunContext(ctx, os.Args); err != nil {
		errColor.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:  "ytcipher",
		Usage: "resolve and apply YouTube player signature programs",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "cache-file", Usage: "program store file", EnvVars: []string{"YTCIPHER_CACHE_FILE"}},
			&cli.BoolFlag{Name: "memory", Usage: "keep programs in memory only"},
			&cli.DurationFlag{Name: "http-timeout", Value: 30 * time.Second, Usage: "HTTP timeout", EnvVars: []string{"YTCIPHER_HTTP_TIMEOUT"}},
			&cli.IntFlag{Name: "retries", Value: 1, Usage: "HTTP attempts for transient errors", EnvVars: []string{"YTCIPHER_RETRIES"}},
			&cli.StringFlag{Name: "ua", Usage: "override User-Agent header"},
			&cli.StringFlag{Name: "proxy", Usage: "proxy URL", EnvVars: []string{"YTCIPHER_PROXY"}},
			&cli.BoolFlag{Name: "verify", Usage: "check new programs against the player routine", EnvVars: []string{"YTCIPHER_VERIFY"}},
			&cli.IntFlag{Name: "workers", Usage: "concurrent resolutions for batch (0 means NumCPU*5)"},
			&cli.StringFlag{Name: "log-level", Usage: "TRACE, DEBUG, INFO, WARN or ERROR"},
			&cli.StringFlag{Name: "log-config", Usage: "JSON logging config file"},
			&cli.BoolFlag{Name: "no-color", Usage: "disable colored output"},
		},
		Before: setup,
		Commands: []*cli.Command{
			{
				Name:  "resolve",
				Usage: "print the program for a player release",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "release", Required: true, Usage: "release id"},
					&cli.StringFlag{Name: "script", Required: true, Usage: "player script URL"},
				},
				Action: resolveAction,
			},
			{
				Name:      "batch",
				Usage:     "resolve every \"<release> <script-url>\" line of a file",
				ArgsUsage: "<file|->",
				Action:    batchAction,
			},
			{
				Name:      "video",
				Usage:     "resolve the player of a watch page",
				ArgsUsage: "<url>",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "formats", Usage: "list deciphered stream URLs"},
					&cli.StringFlag{Name: "best", Usage: "print the best streams in a container (mp4, webm, 3gp, m4a)"},
					&cli.IntFlag{Name: "max-height", Usage: "upper bound on the adaptive video height for --best"},
				},
				Action: videoAction,
			},
			{
				Name:      "decompile",
				Usage:     "decompile a local player script",
				ArgsUsage: "<file.js|->",
				Action:    decompileAction,
			},
			{
				Name:      "decipher",
				Usage:     "apply a program to a signature or signatureCipher",
				ArgsUsage: "<signature>",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "program", Required: true, Usage: `encoded program, e.g. "s3 r w49"`},
					&cli.BoolFlag{Name: "cipher", Usage: "treat the argument as a signatureCipher and print the stream URL"},
				},
				Action: decipherAction,
			},
			{
				Name:  "cache",
				Usage: "inspect the program store",
				Subcommands: []*cli.Command{
					{Name: "list", Usage: "list stored programs", Action: cacheListAction},
					{Name: "get", Usage: "print one stored program", ArgsUsage: "<release>", Action: cacheGetAction},
					{Name: "path", Usage: "print the store file location", Action: cachePathAction},
				},
			},
		},
	}
}

func setup(c *cli.Context) error {
	if c.Bool("no-color") {
		color.NoColor = true
	}

	cfg := logger.EnvironmentConfig()
	if path := c.String("log-config"); path != "" {
		fileCfg, err := logger.LoadConfigFromFile(path)
		if err != nil {
			return err
		}
		cfg = fileCfg
	}
	if lvl := c.String("log-level"); lvl != "" {
		cfg.Level = lvl
	}
	if err := cfg.ValidateConfig(); err != nil {
		return err
	}
	l, err := logger.CreateLoggerFromConfig(cfg)
	if err != nil {
		return err
	}
	logger.SetGlobalLogger(l)
	return nil
}

func newEngine(c *cli.Context) *ytcipher.Engine {
	e := ytcipher.New().
		WithClientConfig(client.Config{
			Timeout:   c.Duration("http-timeout"),
			Retries:   c.Int("retries"),
			UserAgent: c.String("ua"),
			ProxyURL:  c.String("proxy"),
		}).
		WithVerify(c.Bool("verify")).
		WithWorkers(c.Int("workers"))
	if c.Bool("memory") {
		return e.WithMemoryStore(0)
	}
	return e.WithCacheFile(c.String("cache-file"))
}

func openStore(c *cli.Context) (*store.FileStore, error) {
	return store.NewFileStore(c.String("cache-file"))
}

func resolveAction(c *cli.Context) error {
	ref := types.PlayerRef{ReleaseID: c.String("release"), ScriptURL: c.String("script")}
	p, err := newEngine(c).Resolve(c.Context, ref)
	if err != nil {
		return describe(err)
	}
	okColor.Fprintln(c.App.Writer, p.Encode())
	return nil
}

func batchAction(c *cli.Context) error {
	r, closeFn, err := openInput(c.Args().First())
	if err != nil {
		return err
	}
	defer closeFn()

	var refs []types.PlayerRef
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := strings.TrimSpace(sc.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) != 2 {
			return fmt.Errorf("line %d: want \"<release> <script-url>\"", line)
		}
		refs = append(refs, types.PlayerRef{ReleaseID: fields[0], ScriptURL: fields[1]})
	}
	if err := sc.Err(); err != nil {
		return err
	}

	failed := 0
	for _, res := range newEngine(c).ResolveAll(c.Context, refs) {
		keyColor.Fprintf(c.App.Writer, "%s\t", res.Ref.ReleaseID)
		if res.Err != nil {
			failed++
			warnColor.Fprintln(c.App.Writer, describe(res.Err))
			continue
		}
		okColor.Fprintln(c.App.Writer, res.Program.Encode())
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d releases failed", failed, len(refs))
	}
	return nil
}

func videoAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("video needs exactly one URL", 2)
	}
	v, err := newEngine(c).ResolveVideo(c.Context, c.Args().First())
	if err != nil {
		return describe(err)
	}
	w := c.App.Writer
	printField(w, "video", v.ID)
	printField(w, "release", v.Ref.ReleaseID)
	printField(w, "script", v.Ref.ScriptURL)
	keyColor.Fprint(w, "program: ")
	okColor.Fprintln(w, v.Program.Encode())
	if c.Bool("formats") {
		for _, f := range v.Formats {
			if f.URL == "" {
				warnColor.Fprintf(w, "%s\t(unresolved)\n", formats.Label(f))
				continue
			}
			fmt.Fprintf(w, "%s\t%s\n", formats.Label(f), f.URL)
		}
	}
	if ext := c.String("best"); ext != "" {
		return printBest(w, v, ext, c.Int("max-height"))
	}
	return nil
}

func printBest(w io.Writer, v *ytcipher.Video, ext string, maxHeight int) error {
	found := false
	if f, err := v.BestMultiplexed(ext); err == nil {
		printStream(w, "multiplexed", f)
		found = true
	} else if errors.Is(err, formats.ErrUnsupportedExt) {
		return cli.Exit(err.Error(), 2)
	}
	if a, err := v.BestAdaptive(ext, maxHeight); err == nil {
		if a.Audio != nil {
			printStream(w, "audio", a.Audio)
		}
		if a.Video != nil {
			printStream(w, "video", a.Video)
		}
		found = true
	}
	if !found {
		return fmt.Errorf("no %s streams for %s", ext, v.ID)
	}
	return nil
}

func printStream(w io.Writer, kind string, f *types.Format) {
	keyColor.Fprintf(w, "%s: ", kind)
	if f.URL == "" {
		warnColor.Fprintf(w, "%s\t(unresolved)\n", formats.Label(*f))
		return
	}
	fmt.Fprintf(w, "%s\t%s\n", formats.Label(*f), f.URL)
}

func decompileAction(c *cli.Context) error {
	r, closeFn, err := openInput(c.Args().First())
	if err != nil {
		return err
	}
	defer closeFn()
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	script := string(b)
	p, err := cipher.Decompile(script)
	if err != nil {
		return describe(err)
	}
	if c.Bool("verify") {
		if err := cipher.Verify(script, p); err != nil {
			return describe(err)
		}
	}
	okColor.Fprintln(c.App.Writer, p.Encode())
	return nil
}

func decipherAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("decipher needs exactly one argument", 2)
	}
	p, err := cipher.ParseProgram(c.String("program"))
	if err != nil {
		return describe(err)
	}
	var out string
	if c.Bool("cipher") {
		out, err = formats.DecipherURL(p, c.Args().First())
	} else {
		out, err = cipher.Apply(c.Args().First(), p)
	}
	if err != nil {
		return describe(err)
	}
	fmt.Fprintln(c.App.Writer, out)
	return nil
}

func cacheListAction(c *cli.Context) error {
	s, err := openStore(c)
	if err != nil {
		return err
	}
	entries, err := s.Entries()
	if err != nil {
		return fmt.Errorf("read %s: %w", s.Path(), err)
	}
	for _, e := range entries {
		keyColor.Fprintf(c.App.Writer, "%s\t", e.ReleaseID)
		fmt.Fprintln(c.App.Writer, e.Program)
	}
	return nil
}

func cacheGetAction(c *cli.Context) error {
	if c.NArg() != 1 {
		return cli.Exit("cache get needs a release id", 2)
	}
	s, err := openStore(c)
	if err != nil {
		return err
	}
	p, ok := s.Lookup(c.Args().First())
	if !ok {
		return cli.Exit("no program stored for "+c.Args().First(), 1)
	}
	okColor.Fprintln(c.App.Writer, p.Encode())
	return nil
}

func cachePathAction(c *cli.Context) error {
	s, err := openStore(c)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer, s.Path())
	return nil
}

func printField(w io.Writer, key, value string) {
	keyColor.Fprintf(w, "%s: ", key)
	fmt.Fprintln(w, value)
}

func openInput(name string) (io.Reader, func(), error) {
	if name == "" || name == "-" {
		return os.Stdin, func() {}, nil
	}
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

// describe adds a hint for errors a user can act on.
func describe(err error) error {
	switch {
	case errors.Is(err, context.Canceled):
		return errors.New("interrupted")
	case cipher.IsPatternNotFound(err):
		return fmt.Errorf("%w (the player routine changed shape; try a newer release of ytcipher)", err)
	case cipher.IsFetchError(err):
		return fmt.Errorf("%w (network problem; retry or raise --retries)", err)
	}
	return err
}

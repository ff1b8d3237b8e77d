package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/chazu/ember/compiler"
	"github.com/chazu/ember/imagestore"
	"github.com/chazu/ember/manifest"
	"github.com/chazu/ember/vm"
)

func newRunCmd() *cobra.Command {
	var (
		mode    string
		noCache bool
		printV  bool
	)

	cmd := &cobra.Command{
		Use:   "run [script]",
		Short: "Run a script",
		Long: `Run a script in a fresh environment.

The prelude scripts of ember.toml run first. In image mode the sources are
compiled to an image, cached when the manifest names a cache, and the image
is executed.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, entry, err := project(args)
			if err != nil {
				return err
			}
			if mode != "" {
				m.Runtime.Mode = mode
			}
			md, err := manifest.ParseMode(m.Runtime.Mode)
			if err != nil {
				return err
			}
			if noCache {
				m.Cache.Path = ""
			}

			e, v, err := runProject(cmd.Context(), m, md, entry)
			if err != nil {
				return err
			}
			if printV {
				fmt.Println(e.Format(v))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&mode, "mode", "", "environment mode: interpreter, interactive or image")
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "compile images without the cache")
	cmd.Flags().BoolVarP(&printV, "print", "p", false, "print the value of the last statement")
	return cmd
}

// source is one script file.
type source struct {
	path string
	text string
}

func readSources(m *manifest.Manifest, entry string) ([]source, error) {
	var out []source
	for _, path := range append(m.PreludePaths(), entry) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, source{path: path, text: string(data)})
	}
	return out, nil
}

// runProject runs the prelude and entry script and returns the environment
// with the entry script's value.
func runProject(ctx context.Context, m *manifest.Manifest, mode vm.Mode, entry string) (*vm.Env, vm.Value, error) {
	srcs, err := readSources(m, entry)
	if err != nil {
		return nil, vm.Undefined, err
	}
	cfg := envConfig(m)

	if mode == vm.ModeImage {
		texts := make([]string, len(srcs))
		for i, s := range srcs {
			texts[i] = s.text
		}
		img, err := compileImage(ctx, m, cfg, strings.Join(texts, "\n"))
		if err != nil {
			return nil, vm.Undefined, fmt.Errorf("%s:%w", entry, err)
		}
		cfg.Image = img
		e, err := vm.New(vm.ModeImage, cfg)
		if err != nil {
			return nil, vm.Undefined, err
		}
		v, err := e.Run()
		return e, v, err
	}

	// Prelude globals must outlive their own script.
	if len(srcs) > 1 {
		mode = vm.ModeInteractive
	}
	e, err := vm.New(mode, cfg)
	if err != nil {
		return nil, vm.Undefined, err
	}
	var v vm.Value
	for _, s := range srcs {
		log.Debugf("executing %s", s.path)
		if v, err = e.Execute(s.text); err != nil {
			return e, v, fmt.Errorf("%s:%w", s.path, err)
		}
	}
	return e, v, nil
}

// compileImage compiles src for the natives of cfg, through the manifest's
// image cache when one is configured.
func compileImage(ctx context.Context, m *manifest.Manifest, cfg vm.Config, src string) ([]byte, error) {
	order, err := m.ByteOrder()
	if err != nil {
		return nil, err
	}
	opts := compiler.Options{
		Natives:    vm.NewResolver(cfg.Natives),
		BufferSize: cfg.CompileBuffer,
		NodeLimit:  cfg.NodeLimit,
	}

	path := m.CachePath()
	if path == "" {
		return compiler.CompileImage(src, opts, order)
	}
	store, err := imagestore.Open(path)
	if err != nil {
		return nil, err
	}
	defer store.Close()

	img, hit, err := store.Compile(ctx, src, opts, order)
	if err != nil {
		return nil, err
	}
	log.Infof("image %d bytes (cached: %t)", len(img), hit)
	return img, nil
}

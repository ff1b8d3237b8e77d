package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/chazu/ember/compiler"
	"github.com/chazu/ember/imagestore"
	"github.com/chazu/ember/pkg/image"
	"github.com/chazu/ember/vm"
)

// ImageExt is the file extension of built images.
const ImageExt = ".emx"

func newBuildCmd() *cobra.Command {
	var (
		output    string
		byteOrder string
	)

	cmd := &cobra.Command{
		Use:   "build [script]",
		Short: "Compile a script and its prelude to an image",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, entry, err := project(args)
			if err != nil {
				return err
			}
			if byteOrder != "" {
				m.Image.ByteOrder = byteOrder
			}
			if output == "" {
				output = m.OutputPath()
				if len(args) > 0 {
					output = strings.TrimSuffix(entry, filepath.Ext(entry)) + ImageExt
				}
			}

			srcs, err := readSources(m, entry)
			if err != nil {
				return err
			}
			texts := make([]string, len(srcs))
			for i, s := range srcs {
				texts[i] = s.text
			}
			m.Cache.Path = ""
			img, err := compileImage(cmd.Context(), m, envConfig(m), strings.Join(texts, "\n"))
			if err != nil {
				return fmt.Errorf("%s:%w", entry, err)
			}
			if err := os.WriteFile(output, img, 0644); err != nil {
				return err
			}
			fmt.Printf("Wrote %s (%d bytes)\n", output, len(img))
			return nil
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "image file to write")
	cmd.Flags().StringVar(&byteOrder, "byte-order", "", "image byte order: little or big")
	return cmd
}

func newDisasmCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disasm <script|image>",
		Short: "Print the bytecode of a script or image",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			var x *image.Executable
			if filepath.Ext(args[0]) == ImageExt {
				x, err = image.Decode(data)
			} else {
				opts := compiler.Options{Natives: vm.NewResolver(vm.CoreNatives(os.Stdout))}
				x, err = compiler.Compile(string(data), opts)
			}
			if err != nil {
				return fmt.Errorf("%s:%w", args[0], err)
			}

			listing, err := image.Disassemble(x)
			if err != nil {
				return err
			}
			fmt.Print(listing)
			return nil
		},
	}
}

func newCacheCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Inspect or prune the image cache of the current project",
	}

	openStore := func() (*imagestore.Store, error) {
		m, _, err := project(nil)
		if err != nil {
			return nil, err
		}
		path := m.CachePath()
		if path == "" {
			return nil, fmt.Errorf("the project has no [cache] path")
		}
		return imagestore.Open(path)
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List cached images",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			entries, err := store.List(cmd.Context())
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Printf("%s  %8d  %s\n", e.Digest[:16], e.Size, e.Created.Format(time.RFC3339))
			}
			return nil
		},
	})

	var olderThan time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete cached images older than a duration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.Prune(cmd.Context(), time.Now().Add(-olderThan))
			if err != nil {
				return err
			}
			fmt.Printf("Pruned %d images\n", n)
			return nil
		},
	}
	prune.Flags().DurationVar(&olderThan, "older-than", 7*24*time.Hour, "minimum age of pruned images")
	cmd.AddCommand(prune)

	return cmd
}

package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chunkarchive/chunkarchive/pkg/chunkstore"
	"github.com/chunkarchive/chunkarchive/pkg/synchronizer"
)

var encodeConfiguration struct {
	archive string
	index   string
	store   string
}

var encodeCommand = &cobra.Command{
	Use:   "encode <path>",
	Short: "Encode a filesystem tree into an archive, index, and chunk store",
	Args:  cobra.ExactArgs(1),
	RunE:  encodeMain,
}

func init() {
	flags := encodeCommand.Flags()
	flags.StringVar(&encodeConfiguration.archive, "archive", "", "path to write the archive file")
	flags.StringVar(&encodeConfiguration.index, "index", "", "path to write the index file")
	flags.StringVar(&encodeConfiguration.store, "store", "", "writable chunk store root (overrides configuration)")
}

func encodeMain(command *cobra.Command, arguments []string) error {
	basePath := arguments[0]

	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}
	logger := newLogger(cfg).Sublogger("encode")

	storeRoot := encodeConfiguration.store
	if storeRoot == "" {
		storeRoot = cfg.WritableStore
	}

	if encodeConfiguration.archive == "" && encodeConfiguration.index == "" {
		return fmt.Errorf("at least one of --archive or --index must be specified")
	}

	s := synchronizer.New(synchronizer.Encode, logger)
	if err := s.SetChunkerConfig(cfg.ChunkerConfig()); err != nil {
		return err
	}

	baseFD, err := os.Open(basePath)
	if err != nil {
		return fmt.Errorf("unable to open %s: %w", basePath, err)
	}
	if err := s.SetBaseFD(baseFD); err != nil {
		return err
	}

	if encodeConfiguration.archive != "" {
		if err := s.SetArchivePath(encodeConfiguration.archive); err != nil {
			return err
		}
	}

	if encodeConfiguration.index != "" {
		if storeRoot == "" {
			return fmt.Errorf("--index requires a writable store (set --store or configure writable_store)")
		}
		store, err := chunkstore.New(storeRoot, true, logger)
		if err != nil {
			return fmt.Errorf("unable to open writable store: %w", err)
		}
		if err := s.SetWritableStore(store); err != nil {
			return err
		}
		if err := s.SetIndexPath(encodeConfiguration.index); err != nil {
			return err
		}
	} else if storeRoot != "" {
		store, err := chunkstore.New(storeRoot, true, logger)
		if err != nil {
			return fmt.Errorf("unable to open writable store: %w", err)
		}
		if err := s.SetWritableStore(store); err != nil {
			return err
		}
	}

	defer s.Close()

	var entries uint64
	for {
		code, err := s.Step()
		if err != nil {
			return err
		}
		if code == synchronizer.StepCodeFinished {
			break
		}
		if code == synchronizer.StepCodeNextFile {
			entries++
			if path, pathErr := s.CurrentPath(); pathErr == nil && path != "" {
				printProgress("encoding %s", path)
			}
		}
	}
	finishProgress()

	digest, err := s.GetDigest()
	if err != nil {
		return err
	}
	fmt.Printf("archive digest: %s (%s entries)\n", digest.String(), humanize.Comma(int64(entries)))
	return nil
}

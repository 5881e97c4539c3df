package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/chunkarchive/chunkarchive/pkg/archive"
	"github.com/chunkarchive/chunkarchive/pkg/chunkstore"
	"github.com/chunkarchive/chunkarchive/pkg/synchronizer"
)

var decodeConfiguration struct {
	archive    string
	index      string
	store      string
	seedStores []string
	baseMode   string
}

var decodeCommand = &cobra.Command{
	Use:   "decode <path>",
	Short: "Decode an archive (or index plus chunk store) into a filesystem tree",
	Args:  cobra.ExactArgs(1),
	RunE:  decodeMain,
}

func init() {
	flags := decodeCommand.Flags()
	flags.StringVar(&decodeConfiguration.archive, "archive", "", "path to read the archive file")
	flags.StringVar(&decodeConfiguration.index, "index", "", "path to read the index file")
	flags.StringVar(&decodeConfiguration.store, "store", "", "writable chunk store root (overrides configuration)")
	flags.StringArrayVar(&decodeConfiguration.seedStores, "seed-store", nil, "read-only seed chunk store root (may be specified multiple times)")
	flags.StringVar(&decodeConfiguration.baseMode, "base-mode", "directory", "kind of filesystem object to materialize: directory, regular, or block-device")
}

func parseBaseMode(name string) (archive.Kind, error) {
	switch name {
	case "directory":
		return archive.KindDirectory, nil
	case "regular":
		return archive.KindRegular, nil
	case "block-device":
		return archive.KindBlockDevice, nil
	default:
		return 0, fmt.Errorf("unrecognized base mode %q", name)
	}
}

func decodeMain(command *cobra.Command, arguments []string) error {
	basePath := arguments[0]

	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}
	logger := newLogger(cfg).Sublogger("decode")

	if decodeConfiguration.archive == "" && decodeConfiguration.index == "" {
		return fmt.Errorf("at least one of --archive or --index must be specified")
	}

	mode, err := parseBaseMode(decodeConfiguration.baseMode)
	if err != nil {
		return err
	}

	s := synchronizer.New(synchronizer.Decode, logger)
	if err := s.SetChunkerConfig(cfg.ChunkerConfig()); err != nil {
		return err
	}
	if err := s.SetBasePath(basePath); err != nil {
		return err
	}
	if err := s.SetBaseMode(mode); err != nil {
		return err
	}

	if decodeConfiguration.archive != "" {
		fd, err := os.Open(decodeConfiguration.archive)
		if err != nil {
			return fmt.Errorf("unable to open %s: %w", decodeConfiguration.archive, err)
		}
		if err := s.SetArchiveFD(fd); err != nil {
			return err
		}
	}

	storeRoot := decodeConfiguration.store
	if storeRoot == "" {
		storeRoot = cfg.WritableStore
	}
	if storeRoot != "" {
		store, err := chunkstore.New(storeRoot, true, logger)
		if err != nil {
			return fmt.Errorf("unable to open writable store: %w", err)
		}
		if err := s.SetWritableStore(store); err != nil {
			return err
		}
	}
	seedRoots := decodeConfiguration.seedStores
	if len(seedRoots) == 0 {
		seedRoots = cfg.SeedStores
	}
	for _, seedRoot := range seedRoots {
		store, err := chunkstore.New(seedRoot, false, logger)
		if err != nil {
			return fmt.Errorf("unable to open seed store %s: %w", seedRoot, err)
		}
		if err := s.AddSeedStore(store); err != nil {
			return err
		}
	}

	if decodeConfiguration.index != "" {
		if err := s.SetIndexPath(decodeConfiguration.index); err != nil {
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
				printProgress("decoding %s", path)
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

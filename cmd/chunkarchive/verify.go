package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chunkarchive/chunkarchive/pkg/archive"
	"github.com/chunkarchive/chunkarchive/pkg/chunkstore"
	"github.com/chunkarchive/chunkarchive/pkg/objectid"
	"github.com/chunkarchive/chunkarchive/pkg/synchronizer"
)

var verifyConfiguration struct {
	archiveFile string
	index       string
	store       string
	seedStores  []string
	digest      string
}

var verifyCommand = &cobra.Command{
	Use:   "verify",
	Short: "Decode an archive into a scratch directory and report its digest",
	Args:  cobra.NoArgs,
	RunE:  verifyMain,
}

func init() {
	flags := verifyCommand.Flags()
	flags.StringVar(&verifyConfiguration.archiveFile, "archive", "", "path to read the archive file")
	flags.StringVar(&verifyConfiguration.index, "index", "", "path to read the index file")
	flags.StringVar(&verifyConfiguration.store, "store", "", "writable chunk store root (overrides configuration)")
	flags.StringArrayVar(&verifyConfiguration.seedStores, "seed-store", nil, "read-only seed chunk store root (may be specified multiple times)")
	flags.StringVar(&verifyConfiguration.digest, "digest", "", "expected archive digest (hexadecimal); if set, mismatch fails the command")
}

// verifyMain decodes the configured archive source into a scratch
// directory (discarded afterward) purely to drive the pipeline to
// completion and read its archive digest, without requiring the caller to
// supply a destination for a tree they don't actually want materialized.
func verifyMain(command *cobra.Command, arguments []string) error {
	cfg, err := loadConfiguration()
	if err != nil {
		return err
	}
	logger := newLogger(cfg).Sublogger("verify")

	if verifyConfiguration.archiveFile == "" && verifyConfiguration.index == "" {
		return fmt.Errorf("at least one of --archive or --index must be specified")
	}

	var expected objectid.ID
	var checkDigest bool
	if verifyConfiguration.digest != "" {
		expected, err = objectid.ParseHex(verifyConfiguration.digest)
		if err != nil {
			return err
		}
		checkDigest = true
	}

	scratch, err := os.MkdirTemp("", "chunkarchive-verify-")
	if err != nil {
		return fmt.Errorf("unable to create scratch directory: %w", err)
	}
	defer os.RemoveAll(scratch)

	destination := scratch + string(os.PathSeparator) + "tree"

	s := synchronizer.New(synchronizer.Decode, logger)
	if err := s.SetChunkerConfig(cfg.ChunkerConfig()); err != nil {
		return err
	}
	if err := s.SetBasePath(destination); err != nil {
		return err
	}
	if err := s.SetBaseMode(archive.KindDirectory); err != nil {
		return err
	}

	if verifyConfiguration.archiveFile != "" {
		fd, err := os.Open(verifyConfiguration.archiveFile)
		if err != nil {
			return fmt.Errorf("unable to open %s: %w", verifyConfiguration.archiveFile, err)
		}
		if err := s.SetArchiveFD(fd); err != nil {
			return err
		}
	}

	storeRoot := verifyConfiguration.store
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
	seedRoots := verifyConfiguration.seedStores
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

	if verifyConfiguration.index != "" {
		if err := s.SetIndexPath(verifyConfiguration.index); err != nil {
			return err
		}
	}

	defer s.Close()

	for {
		code, err := s.Step()
		if err != nil {
			return err
		}
		if code == synchronizer.StepCodeFinished {
			break
		}
	}

	digest, err := s.GetDigest()
	if err != nil {
		return err
	}

	if checkDigest && digest != expected {
		return fmt.Errorf("digest mismatch: expected %s, got %s", expected.String(), digest.String())
	}

	fmt.Printf("archive digest: %s\n", digest.String())
	return nil
}

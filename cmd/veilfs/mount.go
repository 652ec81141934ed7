package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fuse/nodefs"
	"github.com/hanwen/go-fuse/v2/fuse/pathfs"
	"github.com/spf13/cobra"

	"github.com/veilfs/veilfs/internal/dispatch"
	"github.com/veilfs/veilfs/internal/exitcodes"
	"github.com/veilfs/veilfs/internal/osfs"
	"github.com/veilfs/veilfs/internal/tlog"
	"github.com/veilfs/veilfs/internal/vaultcfg"
	"github.com/veilfs/veilfs/internal/vaultfs"
)

var (
	mountMasterKeyHex string
	mountReadOnly     bool
	mountForceDecode  bool
)

func newMountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mount CIPHERDIR MOUNTPOINT",
		Short: "mount CIPHERDIR's encrypted view at MOUNTPOINT",
		Args:  cobra.ExactArgs(2),
		RunE:  runMount,
	}
	cmd.Flags().StringVar(&mountMasterKeyHex, "masterkey", "", "explicit hex-encoded 96-byte master key (emergency use only: visible in \"ps ax\")")
	cmd.Flags().BoolVar(&mountReadOnly, "ro", false, "mount read-only")
	cmd.Flags().BoolVar(&mountForceDecode, "force-decode", false, "read blocks that fail MAC verification as zeros instead of failing with EIO")
	return cmd
}

func runMount(cmd *cobra.Command, args []string) error {
	cipherDir, mountPoint := args[0], args[1]

	masterKey, err := parseMasterKey(mountMasterKeyHex)
	if err != nil {
		return exitcodes.NewErr(err.Error(), exitcodes.Init)
	}

	root, err := osfs.OpenRoot(cipherDir)
	if err != nil {
		return exitcodes.NewErr(fmt.Sprintf("opening cipherdir: %v", err), exitcodes.CipherDir)
	}

	opts := vaultcfg.Default()
	opts.ReadOnly = mountReadOnly
	opts.ForceDecode = mountForceDecode

	vault, err := vaultfs.New(root, masterKey, opts)
	if err != nil {
		return exitcodes.NewErr(err.Error(), exitcodes.Init)
	}

	fs := dispatch.New(vault)
	nfs := pathfs.NewPathNodeFs(fs, nil)
	server, err := nodefs.MountRoot(mountPoint, nfs.Root(), nil)
	if err != nil {
		return exitcodes.NewErr(fmt.Sprintf("mounting: %v", err), exitcodes.FuseNewServer)
	}

	tlog.Info.Printf("mounted %s at %s", cipherDir, mountPoint)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		tlog.Info.Printf("received signal, unmounting")
		server.Unmount()
	}()

	server.Serve()
	return nil
}

// parseMasterKey decodes a hex master key (with optional "-" group
// separators, matching gocryptfs's unhexMasterKey convention) into the
// 96 raw bytes the facade requires.
func parseMasterKey(hexKey string) ([]byte, error) {
	if hexKey == "" {
		return nil, fmt.Errorf("no master key given; pass --masterkey (credential input and the config file are out of scope for this core)")
	}
	hexKey = strings.ReplaceAll(hexKey, "-", "")
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("could not parse master key: %w", err)
	}
	if len(key) != vaultfs.MasterKeySize {
		return nil, fmt.Errorf("master key has length %d but we require length %d", len(key), vaultfs.MasterKeySize)
	}
	return key, nil
}

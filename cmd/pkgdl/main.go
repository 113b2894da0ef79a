// Command pkgdl drives a single package download against a local
// file standing in for the host's own transport (the real network
// fetch is explicitly out of scope for the core, spec §1 Non-goals).
// It wires pkg/pkgdl against pkg/hostkit.DiskHost, an ini-configured
// descriptor, and an mpb progress bar subscribed to the event sink.
package main

import (
	"bytes"
	"crypto/sha1"
	"errors"
	"fmt"
	"hash"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/vbauerster/mpb/v5"
	"github.com/vbauerster/mpb/v5/decor"
	"gopkg.in/ini.v1"

	"github.com/oma-lwm2m/pkgdl/internal/crc"
	"github.com/oma-lwm2m/pkgdl/pkg/hostkit"
	"github.com/oma-lwm2m/pkgdl/pkg/pkgdl"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "pkgdl",
		Short: "Run a DWL package download against a local source file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(configPath)
		},
	}
	root.Flags().StringVarP(&configPath, "config", "c", "pkgdl.ini", "path to the INI descriptor")
	return root
}

// config mirrors SPEC_FULL.md §2.3: a [package] section for the
// descriptor and a [client] section for the demo fetcher.
type config struct {
	uri          string
	size         uint64
	kind         pkgdl.UpdateKind
	resume       bool
	resumeOffset uint64
	sourceFile   string
	chunkSize    int
	stateFile    string
}

func loadConfig(path string) (config, error) {
	cfg, err := ini.Load(path)
	if err != nil {
		return config{}, fmt.Errorf("pkgdl: loading config: %w", err)
	}

	pkgSec := cfg.Section("package")
	clientSec := cfg.Section("client")

	kind := pkgdl.UpdateKindFirmware
	if pkgSec.Key("kind").MustString("firmware") == "software" {
		kind = pkgdl.UpdateKindSoftware
	}

	return config{
		uri:          pkgSec.Key("uri").MustString(""),
		size:         pkgSec.Key("size").MustUint64(0),
		kind:         kind,
		resume:       pkgSec.Key("resume").MustBool(false),
		resumeOffset: pkgSec.Key("resume_offset").MustUint64(0),
		sourceFile:   clientSec.Key("source_file").MustString(""),
		chunkSize:    clientSec.Key("chunk_size").MustInt(4096),
		stateFile:    clientSec.Key("state_file").MustString(""),
	}, nil
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if cfg.uri == "" {
		return errors.New("pkgdl: [package] uri is required")
	}

	f, err := os.Open(cfg.sourceFile)
	if err != nil {
		return fmt.Errorf("pkgdl: opening source file: %w", err)
	}
	defer f.Close()

	host := hostkit.NewDiskHost(cfg.uri, cfg.size, cfg.stateFile)

	progress := mpb.New(mpb.WithWidth(64))
	bar := progress.AddBar(100,
		mpb.PrependDecorators(decor.Name(cfg.uri)),
		mpb.AppendDecorators(decor.Percentage()),
	)
	sink := &barSink{bar: bar}

	downloader := pkgdl.NewDownloader(crc.Func, sha1Backend{}, sink, slog.Default())
	descriptor := pkgdl.Descriptor{
		URI: cfg.uri, Size: cfg.size, Kind: cfg.kind,
		Resume: cfg.resume, ResumeOffset: cfg.resumeOffset,
	}
	if err := downloader.Run(descriptor, host.Callbacks()); err != nil {
		progress.Wait()
		return fmt.Errorf("pkgdl: run: %w", err)
	}

	buf := make([]byte, cfg.chunkSize)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if err := downloader.ReceiveData(buf[:n]); err != nil {
				progress.Wait()
				return fmt.Errorf("pkgdl: receive_data: %w", err)
			}
			if downloader.Done() {
				break
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			progress.Wait()
			return fmt.Errorf("pkgdl: reading source file: %w", readErr)
		}
	}
	progress.Wait()
	return nil
}

// barSink translates download-progress events onto an mpb bar and logs
// download-end and signature-ko; other events are ignored. It is the
// CLI's only EventSink implementation.
type barSink struct {
	bar *mpb.Bar
}

func (s *barSink) Emit(e pkgdl.Event) {
	switch e.Kind {
	case pkgdl.EventDownloadProgress:
		s.bar.SetCurrent(int64(e.Percent))
	case pkgdl.EventDownloadEnd:
		slog.Info("download ended", slog.String("error_code", e.ErrorCode), slog.Bool("success", e.Success))
	case pkgdl.EventSignatureKO:
		slog.Warn("signature verification failed")
	}
}

// sha1Backend is the CLI's concrete choice for the crypto §9 open
// question: raw SHA-1 digest comparison against the signature's first
// 20 bytes, rather than an RSA/ECDSA-over-SHA1 scheme.
type sha1Backend struct{}

func (sha1Backend) SHA1Start() (any, error) { return sha1.New(), nil }

func (sha1Backend) SHA1Process(ctx any, data []byte) error {
	ctx.(hash.Hash).Write(data)
	return nil
}

func (sha1Backend) SHA1End(ctx any, pkgType uint32, signature []byte) error {
	sum := ctx.(hash.Hash).Sum(nil)
	if len(signature) < len(sum) || !bytes.Equal(sum, signature[:len(sum)]) {
		return errors.New("sha1 signature mismatch")
	}
	return nil
}

func (sha1Backend) SHA1Cancel(ctx any) {}

package filecache

import (
	"io"
	"os"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Format names the compression codec an entry's compressed file is stored in; it is
// also the on-disk extension (§6: "<name>.<ext>").
type Format string

const (
	// FormatLZ4 is the spec's required codec: streamed LZ4-family blocks at the
	// fastest level, sized for footprint reduction rather than ratio.
	FormatLZ4 Format = "lz4"
	// FormatZSTD is a supplemental, higher-ratio format for callers willing to spend
	// more CPU, selectable per cache.
	FormatZSTD Format = "zst"
)

// blockSize is the streamed block size the spec calls for (~1 MiB).
const blockSize = lz4.Block1Mb

func compressFile(format Format, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		out.Close()
		os.Remove(tmp)
		return err
	}

	switch format {
	case FormatZSTD:
		enc, err := zstd.NewWriter(out, zstd.WithEncoderLevel(zstd.SpeedFastest))
		if err != nil {
			return fail(err)
		}
		if _, err := io.Copy(enc, in); err != nil {
			enc.Close()
			return fail(err)
		}
		if err := enc.Close(); err != nil {
			return fail(err)
		}
	default:
		w := lz4.NewWriter(out)
		if err := w.Apply(lz4.BlockSizeOption(blockSize), lz4.CompressionLevelOption(lz4.Fast)); err != nil {
			return fail(err)
		}
		if _, err := io.Copy(w, in); err != nil {
			w.Close()
			return fail(err)
		}
		if err := w.Close(); err != nil {
			return fail(err)
		}
	}
	if err := out.Close(); err != nil {
		return fail(err)
	}
	return os.Rename(tmp, dst)
}

// decompressFile is fatal on corrupt input by design (§4.5: "decompression failure is
// fatal, consider cleaning the build state") — callers surface the returned error with
// that guidance rather than trying to recover in place.
func decompressFile(format Format, src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dst + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	fail := func(err error) error {
		out.Close()
		os.Remove(tmp)
		return err
	}

	switch format {
	case FormatZSTD:
		dec, err := zstd.NewReader(in)
		if err != nil {
			return fail(err)
		}
		defer dec.Close()
		if _, err := io.Copy(out, dec); err != nil {
			return fail(err)
		}
	default:
		r := lz4.NewReader(in)
		if _, err := io.Copy(out, r); err != nil {
			return fail(err)
		}
	}
	if err := out.Close(); err != nil {
		return fail(err)
	}
	return os.Rename(tmp, dst)
}

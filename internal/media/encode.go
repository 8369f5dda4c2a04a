package media

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"

	"github.com/kalambet/clipsage/internal/project"
)

// encodeChunk is a multiple of 3 so chunks encode without padding.
const encodeChunk = 3 * 256 * 1024

// Encode returns the base64 form of the handle's payload. onProgress, when
// non-nil, receives the number of bytes consumed so far and the total.
func Encode(ctx context.Context, h *Handle, onProgress func(done, total int64)) (string, error) {
	data, err := h.Bytes()
	if err != nil {
		return "", project.WrapError(project.ErrEncode, "encode", err)
	}
	total := int64(len(data))
	if total == 0 {
		return "", project.WrapError(project.ErrEncode, "encode", errors.New("empty payload"))
	}

	var b strings.Builder
	b.Grow(base64.StdEncoding.EncodedLen(len(data)))
	buf := make([]byte, base64.StdEncoding.EncodedLen(encodeChunk))

	for off := 0; off < len(data); off += encodeChunk {
		if err := ctx.Err(); err != nil {
			return "", project.WrapError(project.ErrCancelled, "encode", err)
		}
		end := min(off+encodeChunk, len(data))
		n := base64.StdEncoding.EncodedLen(end - off)
		base64.StdEncoding.Encode(buf[:n], data[off:end])
		b.Write(buf[:n])
		if onProgress != nil {
			onProgress(int64(end), total)
		}
	}
	return b.String(), nil
}

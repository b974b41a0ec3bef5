package delivery

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrUnsatisfiableRange 表示 Range 头越界或格式非法，应答 416。
var ErrUnsatisfiableRange = errors.New("range not satisfiable")

// ByteRange 是解析后的闭区间字节范围。
type ByteRange struct {
	Start int64
	End   int64
}

// Length 返回范围覆盖的字节数。
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

// ContentRange 构造 206 响应的 Content-Range 值。
func (r ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size)
}

// UnsatisfiableContentRange 构造 416 响应的 Content-Range 值。
func UnsatisfiableContentRange(size int64) string {
	return fmt.Sprintf("bytes */%d", size)
}

// ParseRange 解析 "bytes=start-end" 形式的 Range 头。
// 支持开区间（"bytes=500-"）与后缀区间（"bytes=-500"）；
// start/end 超出 [0, size) 或 start > end 都返回 ErrUnsatisfiableRange。
// 多段范围不支持，按整体非法处理。
func ParseRange(header string, size int64) (ByteRange, error) {
	header = strings.TrimSpace(header)
	const prefix = "bytes="
	if !strings.HasPrefix(header, prefix) {
		return ByteRange{}, fmt.Errorf("%w: missing bytes unit", ErrUnsatisfiableRange)
	}
	spec := strings.TrimPrefix(header, prefix)
	if strings.Contains(spec, ",") {
		return ByteRange{}, fmt.Errorf("%w: multipart ranges not supported", ErrUnsatisfiableRange)
	}

	dash := strings.Index(spec, "-")
	if dash < 0 {
		return ByteRange{}, fmt.Errorf("%w: malformed range %q", ErrUnsatisfiableRange, spec)
	}

	startStr := strings.TrimSpace(spec[:dash])
	endStr := strings.TrimSpace(spec[dash+1:])

	// 后缀区间：最后 N 个字节。
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, fmt.Errorf("%w: malformed suffix %q", ErrUnsatisfiableRange, spec)
		}
		if n > size {
			n = size
		}
		if size == 0 {
			return ByteRange{}, fmt.Errorf("%w: empty object", ErrUnsatisfiableRange)
		}
		return ByteRange{Start: size - n, End: size - 1}, nil
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 || start >= size {
		return ByteRange{}, fmt.Errorf("%w: start %q out of [0,%d)", ErrUnsatisfiableRange, startStr, size)
	}

	end := size - 1
	if endStr != "" {
		end, err = strconv.ParseInt(endStr, 10, 64)
		if err != nil || end < start {
			return ByteRange{}, fmt.Errorf("%w: end %q before start", ErrUnsatisfiableRange, endStr)
		}
		if end >= size {
			end = size - 1
		}
	}

	return ByteRange{Start: start, End: end}, nil
}

// Package sse 提供 Server-Sent Events 的读取与写出。
package sse

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// DoneSentinel 是部分上游用来标记流结束的数据帧内容。
const DoneSentinel = "[DONE]"

// maxLineSize 限制单行 SSE 数据的大小。
const maxLineSize = 1024 * 1024

// Event 是一个完整的 SSE 事件。
type Event struct {
	Type string
	Data []byte
}

// IsDone 判断事件是否为 [DONE] 哨兵。
func (e Event) IsDone() bool {
	return string(bytes.TrimSpace(e.Data)) == DoneSentinel
}

// Reader 从字节流中解析 SSE 事件。
type Reader struct {
	scanner *bufio.Scanner
}

// NewReader 创建一个 SSE 读取器。
func NewReader(r io.Reader) *Reader {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineSize)
	return &Reader{scanner: sc}
}

// Next 读取下一个事件，流结束时返回 io.EOF。
// 多行 data 以换行拼接；id、retry 与注释行被忽略。
func (r *Reader) Next() (Event, error) {
	var (
		ev      Event
		lines   [][]byte
		hasData bool
	)
	for r.scanner.Scan() {
		line := bytes.TrimRight(r.scanner.Bytes(), "\r")
		if len(line) == 0 {
			if hasData {
				ev.Data = bytes.Join(lines, []byte("\n"))
				return ev, nil
			}
			ev.Type = ""
			continue
		}
		field, value := splitField(line)
		switch field {
		case "event":
			ev.Type = string(value)
		case "data":
			lines = append(lines, append([]byte(nil), value...))
			hasData = true
		}
	}
	if err := r.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("failed to read sse stream: %w", err)
	}
	if hasData {
		ev.Data = bytes.Join(lines, []byte("\n"))
		return ev, nil
	}
	return Event{}, io.EOF
}

func splitField(line []byte) (string, []byte) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return string(line), nil
	}
	if i == 0 {
		return "", nil
	}
	value := line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:i]), value
}

// WriteData 将 v 编码为 JSON 并写出一帧 "data: <json>\n\n"。
func WriteData(w io.Writer, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal sse payload: %w", err)
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("failed to write sse frame: %w", err)
	}
	return nil
}

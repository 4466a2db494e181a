package store

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strconv"

	"fragpuzzle/pkg/contract"
)

// Encode 以持久化布局写出：顶层对象，键为十进制 ID，值为 {id, index, text}。
// 键按数值升序输出，便于比对。
func Encode(w io.Writer, recs map[string]contract.Fragment) error {
	if err := validate(recs); err != nil {
		return err
	}
	keys := make([]string, 0, len(recs))
	for k := range recs {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return recs[keys[i]].ID < recs[keys[j]].ID })

	var buf bytes.Buffer
	buf.WriteString("{\n")
	for i, k := range keys {
		v, err := json.Marshal(recs[k])
		if err != nil {
			return fmt.Errorf("encode %s: %w", k, err)
		}
		fmt.Fprintf(&buf, "  %q: %s", k, v)
		if i < len(keys)-1 {
			buf.WriteByte(',')
		}
		buf.WriteByte('\n')
	}
	buf.WriteString("}\n")
	_, err := w.Write(buf.Bytes())
	return err
}

// wireFragment 区分缺失字段与零值。
type wireFragment struct {
	ID    *int64  `json:"id"`
	Index *int64  `json:"index"`
	Text  *string `json:"text"`
}

// Decode 读取持久化布局并校验：非空、字段齐全、键与 id 一致、Index 不重复。
func Decode(r io.Reader) (map[string]contract.Fragment, error) {
	var raw map[string]wireFragment
	dec := json.NewDecoder(r)
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", contract.ErrDataInvalid, err)
	}
	out := make(map[string]contract.Fragment, len(raw))
	for k, w := range raw {
		if w.ID == nil || w.Index == nil || w.Text == nil {
			return nil, fmt.Errorf("%w: record %q missing field", contract.ErrDataInvalid, k)
		}
		out[k] = contract.Fragment{ID: *w.ID, Index: *w.Index, Text: *w.Text}
	}
	if err := validate(out); err != nil {
		return nil, err
	}
	return out, nil
}

func validate(recs map[string]contract.Fragment) error {
	if len(recs) == 0 {
		return fmt.Errorf("%w: empty record set", contract.ErrDataInvalid)
	}
	idx := make(map[int64]string, len(recs))
	for k, f := range recs {
		if _, err := strconv.ParseInt(k, 10, 64); err != nil {
			return fmt.Errorf("%w: key %q is not an integer", contract.ErrDataInvalid, k)
		}
		if k != f.Key() {
			return fmt.Errorf("%w: key %q does not match id %d", contract.ErrDataInvalid, k, f.ID)
		}
		if prev, dup := idx[f.Index]; dup {
			return fmt.Errorf("%w: index %d shared by %s and %s", contract.ErrDataInvalid, f.Index, prev, k)
		}
		idx[f.Index] = k
	}
	return nil
}

// LoadFile 读取数据文件并构造只读 Store。
// 文件不存在 → ErrDataNotFound；内容非法 → ErrDataInvalid。
func LoadFile(path string, rnd Rand) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: file '%s' not found", contract.ErrDataNotFound, path)
		}
		return nil, fmt.Errorf("%w: %v", contract.ErrDataInvalid, err)
	}
	defer f.Close()
	recs, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return New(recs, rnd)
}

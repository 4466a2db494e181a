package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"fragpuzzle/pkg/contract"
)

// Options 为源文本读取器的可选配置（最小必要）。
type Options struct {
	// BufSize 为读缓冲区大小（字节）。默认 64KiB。
	BufSize int `json:"buf_size"`
	// ExcludeDirNames: 在扫描目录时跳过这些目录名（基名完全匹配，大小写不敏感）。
	// 仅影响目录递归，不影响单文件 root。
	ExcludeDirNames []string `json:"exclude_dir_names"`
	// AllowExts: 目录扫描时只接受这些扩展名；为空时接受 .txt 与 .md。
	AllowExts []string `json:"allow_exts"`
}

// FileSystem 从文件、目录或 STDIN 读取待切词的源文本。
type FileSystem struct {
	bufSize    int
	excludeDir map[string]struct{}
	allowExt   map[string]struct{}
	stdin      io.Reader
}

// New 创建读取器；stdin 为 "-" 根对应的输入（为空时使用 os.Stdin）。
func New(opts *Options, stdin io.Reader) *FileSystem {
	const defaultBuf = 64 * 1024
	if opts == nil {
		opts = &Options{}
	}
	b := defaultBuf
	if opts.BufSize > 0 {
		b = opts.BufSize
	}
	ex := make(map[string]struct{}, len(opts.ExcludeDirNames))
	for _, name := range opts.ExcludeDirNames {
		if name != "" {
			ex[strings.ToLower(name)] = struct{}{}
		}
	}
	exts := opts.AllowExts
	if len(exts) == 0 {
		exts = []string{".txt", ".md"}
	}
	allow := make(map[string]struct{}, len(exts))
	for _, e := range exts {
		allow[strings.ToLower(e)] = struct{}{}
	}
	if stdin == nil {
		stdin = os.Stdin
	}
	return &FileSystem{bufSize: b, excludeDir: ex, allowExt: allow, stdin: stdin}
}

// Iterate 遍历 roots，按稳定顺序对每个源调用 yield。
// roots 为空或仅为 "-" 时读取 STDIN；"-" 不能与其他根混用。
func (r *FileSystem) Iterate(ctx context.Context, roots []string, yield func(name string, rd io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(roots) == 0 || (len(roots) == 1 && roots[0] == "-") {
		return yield("stdin", bufio.NewReaderSize(r.stdin, r.bufSize))
	}
	for _, s := range roots {
		if s == "-" {
			return fmt.Errorf("%w: stdin '-' cannot be mixed with other roots", contract.ErrInvalidInput)
		}
	}
	for _, root := range roots {
		if err := r.iterateOne(ctx, root, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) iterateOne(ctx context.Context, root string, yield func(string, io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// 显式给出的根跟随符号链接
	info, err := os.Stat(root)
	if err != nil {
		return err
	}
	if info.IsDir() {
		return r.walkDir(ctx, root, yield)
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	return r.yieldFile(root, yield)
}

func (r *FileSystem) walkDir(ctx context.Context, dir string, yield func(string, io.Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	// 稳定顺序：字典序；先目录（不跟随目录符号链接）再文件
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, skip := r.excludeDir[strings.ToLower(e.Name())]; skip {
			continue
		}
		if err := r.walkDir(ctx, filepath.Join(dir, e.Name()), yield); err != nil {
			return err
		}
	}
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return err
		}
		if e.IsDir() {
			continue
		}
		if _, ok := r.allowExt[strings.ToLower(filepath.Ext(e.Name()))]; !ok {
			continue
		}
		p := filepath.Join(dir, e.Name())
		t, err := os.Stat(p)
		if err != nil {
			return err
		}
		if !t.Mode().IsRegular() {
			continue
		}
		if err := r.yieldFile(p, yield); err != nil {
			return err
		}
	}
	return nil
}

func (r *FileSystem) yieldFile(p string, yield func(string, io.Reader) error) error {
	f, err := os.Open(p)
	if err != nil {
		return err
	}
	defer f.Close()
	return yield(filepath.ToSlash(filepath.Clean(p)), bufio.NewReaderSize(f, r.bufSize))
}

// ReadAll 依次读取全部源并以换行拼接；没有任何源时返回 ErrInvalidInput。
func (r *FileSystem) ReadAll(ctx context.Context, roots []string) (string, error) {
	var sb strings.Builder
	n := 0
	err := r.Iterate(ctx, roots, func(name string, rd io.Reader) error {
		if n > 0 {
			sb.WriteByte('\n')
		}
		n++
		if _, err := io.Copy(&sb, rd); err != nil {
			return fmt.Errorf("read %s: %w", name, err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	if n == 0 {
		return "", fmt.Errorf("%w: no readable sources in %v", contract.ErrInvalidInput, roots)
	}
	return sb.String(), nil
}

// IsNotFound 报告错误是否源于缺失的输入路径。
func IsNotFound(err error) bool { return errors.Is(err, os.ErrNotExist) }

package filesystem

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"fragpuzzle/pkg/contract"
)

// ErrExists: NoClobber 模式下目标已存在。
var ErrExists = fs.ErrExist

// Options: 最小必要选项。
type Options struct {
	// Dir: 输出根目录（必需）。
	Dir string `json:"dir"`
	// Atomic: 是否使用原子替换（同目录临时文件 + rename）。
	// 默认 true；显式 false 可关闭。
	Atomic *bool `json:"atomic,omitempty"`
	// NoClobber: 目标已存在时拒绝写入（返回 ErrExists），已有文件保持原样。
	NoClobber bool `json:"no_clobber,omitempty"`
	// PermFile/PermDir: 可选权限；为 0 表示使用默认 0644/0755。
	PermFile os.FileMode `json:"perm_file,omitempty"`
	PermDir  os.FileMode `json:"perm_dir,omitempty"`
}

// FS 将数据文件、模板配置与还原文本写入本地目录。
type FS struct {
	root      string
	atomic    bool
	noClobber bool
	permF     os.FileMode
	permD     os.FileMode
}

// New 创建文件系统 Writer。
func New(opts *Options) (*FS, error) {
	if opts == nil || strings.TrimSpace(opts.Dir) == "" {
		return nil, fmt.Errorf("writer: %w: missing dir", contract.ErrInvalidInput)
	}
	pf := opts.PermFile
	if pf == 0 {
		pf = 0o644
	}
	pd := opts.PermDir
	if pd == 0 {
		pd = 0o755
	}
	atomic := true
	if opts.Atomic != nil {
		atomic = *opts.Atomic
	}
	return &FS{root: opts.Dir, atomic: atomic, noClobber: opts.NoClobber, permF: pf, permD: pd}, nil
}

// ForFile 针对单个目标路径构造 Writer，返回 Writer 与对应的 ArtifactID。
func ForFile(path string, noClobber bool) (*FS, contract.ArtifactID, error) {
	if strings.TrimSpace(path) == "" {
		return nil, "", fmt.Errorf("writer: %w: empty path", contract.ErrInvalidInput)
	}
	w, err := New(&Options{Dir: filepath.Dir(path), NoClobber: noClobber})
	if err != nil {
		return nil, "", err
	}
	return w, contract.ArtifactID(filepath.Base(path)), nil
}

var _ contract.Writer = (*FS)(nil)

// Write 将 r 的全部字节写入到基于 id 映射的目标路径。
func (w *FS) Write(ctx context.Context, id contract.ArtifactID, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	dest, err := w.mapPath(id)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dest), w.permD); err != nil {
		return err
	}
	if w.atomic {
		return w.writeAtomic(ctx, dest, r)
	}
	return w.writeDirect(ctx, dest, r)
}

// mapPath: Clean + Join + 越界校验（禁止绝对路径、父级逃逸、卷名）。
func (w *FS) mapPath(id contract.ArtifactID) (string, error) {
	rel := filepath.Clean(string(id))
	if rel == "." || rel == "" || filepath.IsAbs(rel) || filepath.VolumeName(rel) != "" {
		return "", contract.ErrPathInvalid
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", contract.ErrPathInvalid
	}
	return filepath.Join(w.root, rel), nil
}

func (w *FS) writeDirect(ctx context.Context, dest string, r io.Reader) error {
	flag := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if w.noClobber {
		flag = os.O_CREATE | os.O_WRONLY | os.O_EXCL
	}
	f, err := os.OpenFile(dest, flag, w.permF)
	if err != nil {
		return err
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return err
	}
	return bw.Flush()
}

func (w *FS) writeAtomic(ctx context.Context, dest string, r io.Reader) error {
	if w.noClobber {
		if _, err := os.Lstat(dest); err == nil {
			return &fs.PathError{Op: "write", Path: dest, Err: ErrExists}
		}
	}
	dir := filepath.Dir(dest)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	_ = os.Chmod(tmpPath, w.permF)

	bw := bufio.NewWriter(tmp)
	if _, err := io.Copy(bw, readerWithCtx(ctx, r)); err != nil {
		return fail(err)
	}
	if err := bw.Flush(); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	if w.noClobber {
		// 硬链接在目标已存在时失败，避免检查与替换之间的竞争
		err = os.Link(tmpPath, dest)
		_ = os.Remove(tmpPath)
		if err != nil {
			if errors.Is(err, fs.ErrExist) {
				return &fs.PathError{Op: "write", Path: dest, Err: ErrExists}
			}
			return err
		}
	} else if err := os.Rename(tmpPath, dest); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}
	_ = syncDir(dir)
	return nil
}

// syncDir 尽力同步父目录元数据；不支持的平台忽略错误。
func syncDir(dir string) error {
	f, err := os.Open(dir)
	if err != nil {
		return err
	}
	defer f.Close()
	return f.Sync()
}

// readerWithCtx: 在每次 Read 前检查 ctx 是否已取消。
func readerWithCtx(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (cr *ctxReader) Read(p []byte) (int, error) {
	if err := cr.ctx.Err(); err != nil {
		return 0, err
	}
	return cr.r.Read(p)
}

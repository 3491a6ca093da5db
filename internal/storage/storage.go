// Package storage はアップロードされたファイルの保存先を抽象化します。
package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Storage はオブジェクトストレージへの保存・削除を提供します。
// Save は取得可能なURLを返し、NameFromURL はそのURLからオブジェクト名を
// 逆引きします（このストレージのURLでなければ空文字）。
type Storage interface {
	Save(ctx context.Context, name string, data []byte, contentType string) (string, error)
	Delete(ctx context.Context, name string) error
	NameFromURL(fileURL string) string
}

// Local はローカルファイルシステムに保存する開発環境向けの実装です。
// 保存されたファイルはAPIサーバー自身が /files/ 配下で配信します。
type Local struct {
	dir     string
	baseURL string
}

// NewLocal は保存先ディレクトリを作成して Local を返します。
func NewLocal(dir, baseURL string) (*Local, error) {
	if dir == "" {
		return nil, fmt.Errorf("storage dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create storage dir: %w", err)
	}
	return &Local{
		dir:     dir,
		baseURL: strings.TrimRight(baseURL, "/"),
	}, nil
}

// Dir は保存先ディレクトリを返します（静的配信の設定に使用）。
func (l *Local) Dir() string {
	return l.dir
}

// Save はファイルを書き込み、配信用URLを返します。
func (l *Local) Save(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	path := filepath.Join(l.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return "", fmt.Errorf("failed to create object dir: %w", err)
	}
	if err := os.WriteFile(path, data, 0o640); err != nil {
		return "", fmt.Errorf("failed to write object: %w", err)
	}
	return l.baseURL + "/files/" + name, nil
}

// Delete はファイルを削除します。存在しない場合もエラーにしません。
func (l *Local) Delete(ctx context.Context, name string) error {
	path := filepath.Join(l.dir, filepath.FromSlash(name))
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete object: %w", err)
	}
	return nil
}

// NameFromURL は Save が返したURLからオブジェクト名を逆引きします。
func (l *Local) NameFromURL(fileURL string) string {
	const marker = "/files/"
	idx := strings.Index(fileURL, marker)
	if idx < 0 {
		return ""
	}
	return fileURL[idx+len(marker):]
}

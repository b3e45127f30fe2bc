package fsx

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestWriteFileAtomic_SuccessAndNoTempLeft(t *testing.T) {
	dir := t.TempDir()

	if err := WriteFileAtomic(dir, "index.json", []byte("[]\n")); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	// 覆盖写。
	if err := WriteFileAtomic(dir, "index.json", []byte("[1]\n")); err != nil {
		t.Fatalf("覆盖写不期望错误：%v", err)
	}

	b, err := os.ReadFile(filepath.Join(dir, "index.json"))
	if err != nil {
		t.Fatalf("读取文件失败：%v", err)
	}
	if string(b) != "[1]\n" {
		t.Fatalf("内容不一致：%q", string(b))
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".index.json.tmp-") {
			t.Fatalf("临时文件未清理：%q", e.Name())
		}
	}
}

func TestWriteFileAtomic_RenameFail_KeepsOldAndCleansTemp(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.json"), []byte("old"), 0o644); err != nil {
		t.Fatalf("准备旧文件失败：%v", err)
	}

	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return os.ErrPermission
	}
	defer func() { renameFunc = old }()

	if err := WriteFileAtomic(dir, "index.json", []byte("new")); err == nil {
		t.Fatalf("期望失败，但得到 nil")
	}

	b, _ := os.ReadFile(filepath.Join(dir, "index.json"))
	if string(b) != "old" {
		t.Fatalf("rename 失败时旧文件不应被改动：%q", string(b))
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ".index.json.tmp-") {
			t.Fatalf("临时文件未清理：%q", e.Name())
		}
	}
}

func TestWriteFileAtomic_TargetIsDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.Mkdir(filepath.Join(dir, "index.json"), 0o755); err != nil {
		t.Fatalf("创建目录失败：%v", err)
	}

	err := WriteFileAtomicPath(filepath.Join(dir, "index.json"), []byte("[]"))
	if !IsPathTypeConflict(err) {
		t.Fatalf("期望 PathTypeConflictError，实际：%T %v", err, err)
	}
}

func TestResetDir_RemovesStaleEntries(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "frames", "a")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("MkdirAll 失败：%v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "frame_9.jpg"), []byte("x"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}

	if err := ResetDir(dir); err != nil {
		t.Fatalf("不期望错误：%v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir 失败：%v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("期望空目录，实际：%d 项", len(entries))
	}
}

func TestEnsureDir_FileConflict(t *testing.T) {
	p := filepath.Join(t.TempDir(), "audio")
	if err := os.WriteFile(p, []byte("x"), 0o644); err != nil {
		t.Fatalf("写入失败：%v", err)
	}
	if err := EnsureDir(p); !IsPathTypeConflict(err) {
		t.Fatalf("期望 PathTypeConflictError，实际：%T %v", err, err)
	}
	if err := ResetDir(p); !IsPathTypeConflict(err) {
		t.Fatalf("ResetDir 期望 PathTypeConflictError，实际：%T %v", err, err)
	}
}

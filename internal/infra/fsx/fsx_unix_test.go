//go:build unix

package fsx

import (
	"os"
	"syscall"
	"testing"
)

func TestWriteFileAtomic_CrossDeviceSurfacesTypedError(t *testing.T) {
	old := renameFunc
	renameFunc = func(oldpath, newpath string) error {
		return &os.LinkError{Op: "rename", Old: oldpath, New: newpath, Err: syscall.EXDEV}
	}
	defer func() { renameFunc = old }()

	err := WriteFileAtomic(t.TempDir(), "report.json", []byte("{}"))
	if !IsCrossDevice(err) {
		t.Fatalf("期望 CrossDeviceError，实际：%T %v", err, err)
	}
}

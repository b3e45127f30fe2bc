package detect

import (
	"image"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNMS_ClassWiseSuppression(t *testing.T) {
	cands := []Candidate{
		{Class: 16, Score: 0.6, X1: 0, Y1: 0, X2: 10, Y2: 10},
		{Class: 16, Score: 0.9, X1: 1, Y1: 1, X2: 11, Y2: 11},
		// 与上面重叠但类别不同：保留。
		{Class: 15, Score: 0.7, X1: 1, Y1: 1, X2: 11, Y2: 11},
		// 同类但不重叠：保留。
		{Class: 16, Score: 0.5, X1: 50, Y1: 50, X2: 60, Y2: 60},
	}

	got := NMS(cands, 0.45)
	require.Len(t, got, 3)
	assert.Equal(t, float32(0.9), got[0].Score)
	assert.Equal(t, 15, got[1].Class)
	assert.Equal(t, float32(0.5), got[2].Score)
}

func TestIoU(t *testing.T) {
	a := Candidate{X1: 0, Y1: 0, X2: 2, Y2: 2}
	b := Candidate{X1: 1, Y1: 0, X2: 3, Y2: 2}
	assert.InDelta(t, 1.0/3.0, IoU(a, b), 1e-6)
	assert.Equal(t, float32(0), IoU(a, Candidate{X1: 5, Y1: 5, X2: 6, Y2: 6}))
}

func TestLoadLabels(t *testing.T) {
	def, err := LoadLabels("")
	require.NoError(t, err)
	assert.Len(t, def, 80)
	assert.Equal(t, "dog", def[16])

	p := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(p, []byte("# custom\ncat\n\n  dog  \n"), 0o644))
	got, err := LoadLabels(p)
	require.NoError(t, err)
	assert.Equal(t, []string{"cat", "dog"}, got)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n# nothing\n"), 0o644))
	_, err = LoadLabels(empty)
	assert.Error(t, err)

	assert.Equal(t, "class_99", LabelOf(def, 99))
}

func TestLabelsAndAnnotate(t *testing.T) {
	objs := []Object{
		{Label: "dog", Box: image.Rect(1, 1, 20, 20), Score: 0.9},
		{Label: "dog", Box: image.Rect(30, 30, 40, 40), Score: 0.8},
	}
	assert.Equal(t, []string{"dog", "dog"}, Labels(objs))
	assert.Equal(t, []string{}, Labels(nil))

	out := Annotate(image.NewRGBA(image.Rect(0, 0, 64, 64)), objs)
	assert.Equal(t, 64, out.Bounds().Dx())
}

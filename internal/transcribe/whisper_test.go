package transcribe

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/John-Robertt/vidx/internal/domain"
)

func newTestServer(t *testing.T, body string, status int) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/audio/transcriptions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "verbose_json", r.FormValue("response_format"))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeAudio(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "a.wav")
	require.NoError(t, os.WriteFile(p, []byte("RIFF....WAVE"), 0o644))
	return p
}

func TestWhisper_MapsSegments(t *testing.T) {
	srv := newTestServer(t, `{
		"task": "transcribe", "language": "english", "duration": 6.0, "text": "hello world. bye",
		"segments": [
			{"id": 0, "start": 2.0, "end": 4.0, "text": " hello world. "},
			{"id": 1, "start": 4.0, "end": 4.5, "text": "   "},
			{"id": 2, "start": 4.5, "end": 6.0, "text": "bye"}
		]
	}`, http.StatusOK)

	w := NewWhisper(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1/"}, srv.Client())
	segs, err := w.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)

	assert.Equal(t, []domain.TranscriptSegment{
		{Start: 2, End: 4, Text: "hello world."},
		{Start: 4.5, End: 6, Text: "bye"},
	}, segs)
}

func TestWhisper_TextWithoutSegments(t *testing.T) {
	srv := newTestServer(t, `{"duration": 3.5, "text": "  only text  "}`, http.StatusOK)

	w := NewWhisper(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, srv.Client())
	segs, err := w.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	assert.Equal(t, []domain.TranscriptSegment{{Start: 0, End: 3.5, Text: "only text"}}, segs)
}

func TestWhisper_SilentAudioIsEmpty(t *testing.T) {
	srv := newTestServer(t, `{"duration": 3.5, "text": "", "segments": []}`, http.StatusOK)

	w := NewWhisper(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, srv.Client())
	segs, err := w.Transcribe(context.Background(), writeAudio(t))
	require.NoError(t, err)
	assert.NotNil(t, segs)
	assert.Empty(t, segs)
}

func TestWhisper_APIErrorIsReturned(t *testing.T) {
	srv := newTestServer(t, `{"error":{"message":"invalid file","type":"invalid_request_error"}}`, http.StatusBadRequest)

	w := NewWhisper(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, srv.Client())
	_, err := w.Transcribe(context.Background(), writeAudio(t))
	require.Error(t, err)
}

func TestWhisper_CacheSaltTracksModelAndLanguage(t *testing.T) {
	a := NewWhisper(Options{}, nil)
	b := NewWhisper(Options{Language: "en"}, nil)
	assert.NotEqual(t, a.CacheSalt(), b.CacheSalt())
	assert.Equal(t, "whisper-1|", a.CacheSalt())
}

func TestWhisper_PayloadTooLargeIsReturned(t *testing.T) {
	srv := newTestServer(t, `{"error":{"message":"Maximum content size limit (26214400) exceeded","type":"invalid_request_error"}}`,
		http.StatusRequestEntityTooLarge)

	w := NewWhisper(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1"}, srv.Client())
	_, err := w.Transcribe(context.Background(), writeAudio(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "whisper 转写失败")
}

// writePCM 写出 16-bit 单声道 PCM WAV：50Hz 采样，即每秒 100 字节。
func writePCM(t *testing.T, seconds int) string {
	t.Helper()
	format := make([]byte, 16)
	binary.LittleEndian.PutUint16(format[0:2], 1)
	binary.LittleEndian.PutUint16(format[2:4], 1)
	binary.LittleEndian.PutUint32(format[4:8], 50)
	binary.LittleEndian.PutUint32(format[8:12], 100)
	binary.LittleEndian.PutUint16(format[12:14], 2)
	binary.LittleEndian.PutUint16(format[14:16], 16)

	// ffmpeg 会在 data 之前写 LIST 块，这里也带上一个。
	list := append([]byte("LIST"), 4, 0, 0, 0)
	list = append(list, "INFO"...)

	pcm := make([]byte, seconds*100)
	l := wavLayout{format: format}
	b := wavChunk(l, pcm)
	b = append(b[:36:36], append(list, b[36:]...)...)
	binary.LittleEndian.PutUint32(b[4:8], uint32(len(b)-8))

	p := filepath.Join(t.TempDir(), "long.wav")
	require.NoError(t, os.WriteFile(p, b, 0o644))
	return p
}

func TestWhisper_OversizedAudioIsChunkedAndShifted(t *testing.T) {
	const limit = 44 + 400 // 每片 4 秒
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		i := calls.Add(1) - 1
		f, fh, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		body, _ := io.ReadAll(f)
		assert.LessOrEqual(t, len(body), limit)
		assert.Equal(t, fmt.Sprintf("long.part%d.wav", i), fh.Filename)

		l, err := readWAVLayout(bytes.NewReader(body), int64(len(body)))
		assert.NoError(t, err)
		assert.Equal(t, uint32(100), l.byteRate)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"duration":4,"segments":[{"start":1,"end":2,"text":"part%d"}]}`, i)
	}))
	t.Cleanup(srv.Close)

	w := NewWhisper(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1", MaxUploadBytes: limit}, srv.Client())
	segs, err := w.Transcribe(context.Background(), writePCM(t, 10))
	require.NoError(t, err)

	// 10 秒切成 [0,4) [4,8) [8,10) 三片。
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []domain.TranscriptSegment{
		{Start: 1, End: 2, Text: "part0"},
		{Start: 5, End: 6, Text: "part1"},
		{Start: 9, End: 10, Text: "part2"},
	}, segs)
}

func TestWhisper_OversizedNonWAVFailsWithoutUpload(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	t.Cleanup(srv.Close)

	p := filepath.Join(t.TempDir(), "a.mp3")
	require.NoError(t, os.WriteFile(p, make([]byte, 200), 0o644))

	w := NewWhisper(Options{APIKey: "sk-test", BaseURL: srv.URL + "/v1", MaxUploadBytes: 100}, srv.Client())
	_, err := w.Transcribe(context.Background(), p)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "超过上传上限")
	assert.Zero(t, calls.Load())
}

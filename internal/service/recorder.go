package service

import (
	"bytes"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrRecorderClosed 录音已结束
var ErrRecorderClosed = errors.New("recorder closed")

// Track 采集设备的输入流，Stop 释放设备
type Track interface {
	Stop()
}

// Recording 一段完成的录音
type Recording struct {
	Data        []byte
	ContentType string
	Duration    time.Duration
}

// Label 时长标签，格式 m:ss
func (r *Recording) Label() string {
	return FormatDuration(r.Duration)
}

// Blob 转为待上传附件
func (r *Recording) Blob(fileName string) Blob {
	return Blob{
		Reader:      bytes.NewReader(r.Data),
		FileName:    fileName,
		ContentType: r.ContentType,
		Duration:    r.Label(),
	}
}

// FormatDuration 向下取整到秒，格式 m:ss
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	secs := int64(d / time.Second)
	return fmt.Sprintf("%d:%02d", secs/60, secs%60)
}

// Recorder 语音录制
// Stop、Cancel 与 Close 三条退出路径都经过同一个 release，设备只会被释放一次
type Recorder struct {
	track       Track
	contentType string
	now         func() time.Time
	started     time.Time

	mu      sync.Mutex
	buf     bytes.Buffer
	closed  bool
	once    sync.Once
	elapsed time.Duration
}

// NewRecorder 开始录音
func NewRecorder(track Track, contentType string) *Recorder {
	return newRecorder(track, contentType, time.Now)
}

func newRecorder(track Track, contentType string, now func() time.Time) *Recorder {
	if contentType == "" {
		contentType = "audio/webm"
	}
	return &Recorder{
		track:       track,
		contentType: contentType,
		now:         now,
		started:     now(),
	}
}

// Write 写入采集到的数据
func (r *Recorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return 0, ErrRecorderClosed
	}
	return r.buf.Write(p)
}

// Elapsed 已录制时长
func (r *Recorder) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return r.elapsed
	}
	return r.now().Sub(r.started)
}

// release 唯一的释放点
func (r *Recorder) release() bool {
	released := false
	r.once.Do(func() {
		r.mu.Lock()
		r.closed = true
		r.elapsed = r.now().Sub(r.started)
		r.mu.Unlock()
		if r.track != nil {
			r.track.Stop()
		}
		released = true
	})
	return released
}

// Stop 结束录音并返回结果
func (r *Recorder) Stop() (*Recording, error) {
	if !r.release() {
		return nil, ErrRecorderClosed
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	data := make([]byte, r.buf.Len())
	copy(data, r.buf.Bytes())
	r.buf.Reset()
	return &Recording{Data: data, ContentType: r.contentType, Duration: r.elapsed}, nil
}

// Cancel 放弃录音
func (r *Recorder) Cancel() {
	if r.release() {
		r.mu.Lock()
		r.buf.Reset()
		r.mu.Unlock()
	}
}

// Close 视图销毁时调用，等同于 Cancel
func (r *Recorder) Close() error {
	r.Cancel()
	return nil
}

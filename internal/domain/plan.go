package domain

// VideoPlan 是单个视频的产物布局（只描述路径；真正的写入由 indexer 完成）。
//
// Stem 在一次运行内唯一：同名不同扩展名的视频不会共用输出目录。
type VideoPlan struct {
	File VideoFile
	Stem string

	AudioPath   string // <audio_dir>/<stem>.wav
	FramesDir   string // <frames_dir>/<stem>/
	DetectedDir string // <detected_frames_dir>/<stem>/
}

package constants

// MimeTypes maps file extensions to their corresponding MIME types
var MimeTypes = map[string]string{
	// Image formats
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",

	// Video formats
	".mp4": "video/mp4",
	".mov": "video/quicktime",
	".avi": "video/x-msvideo",

	// Voice formats
	".ogg": "audio/ogg",
	".mp3": "audio/mpeg",
	".wav": "audio/wav",
	".aac": "audio/aac",
	".m4a": "audio/mp4",

	// Document formats
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".txt":  "text/plain",
}

// DefaultMimeType is the fallback MIME type for unknown file extensions
const DefaultMimeType = "application/octet-stream"

// Default allowed extensions per attachment type
var (
	DefaultImageTypes = []string{"jpg", "jpeg", "png", "gif", "webp"}
	DefaultVideoTypes = []string{"mp4", "mov", "avi"}
	DefaultVoiceTypes = []string{"ogg", "mp3", "wav", "aac", "m4a"}
	DefaultFileTypes  = []string{"pdf", "doc", "docx", "txt"}
)

package http1

import "strings"

// DefaultContentType is used for files whose extension is not known.
const DefaultContentType = "application/octet-stream"

var contentTypes = map[string]string{
	// documents
	"txt":  "text/plain",
	"html": "text/html",
	"htm":  "text/html",
	"css":  "text/css",
	"csv":  "text/csv",
	"xml":  "application/xml",
	"json": "application/json",
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	"ppt":  "application/vnd.ms-powerpoint",
	"pptx": "application/vnd.openxmlformats-officedocument.presentationml.presentation",

	// images
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"bmp":  "image/bmp",
	"webp": "image/webp",
	"tif":  "image/tiff",
	"tiff": "image/tiff",
	"svg":  "image/svg+xml",
	"ico":  "image/x-icon",

	// audio
	"mp3":  "audio/mpeg",
	"wav":  "audio/wav",
	"ogg":  "audio/ogg",
	"flac": "audio/flac",
	"aac":  "audio/aac",
	"m4a":  "audio/mp4",

	// video
	"mp4":  "video/mp4",
	"webm": "video/webm",
	"ogv":  "video/ogg",
	"mov":  "video/quicktime",
	"avi":  "video/x-msvideo",
	"mkv":  "video/x-matroska",
	"flv":  "video/x-flv",
	"wmv":  "video/x-ms-wmv",

	// archives and binaries
	"zip": "application/zip",
	"tar": "application/x-tar",
	"gz":  "application/gzip",
	"rar": "application/vnd.rar",
	"7z":  "application/x-7z-compressed",
	"exe": "application/vnd.microsoft.portable-executable",
	"bin": "application/octet-stream",
	"iso": "application/x-iso9660-image",

	// scripts
	"js":   "application/javascript",
	"mjs":  "text/javascript",
	"wasm": "application/wasm",
}

// ContentTypeFor returns the media type for a file name, judged by the text
// after its last '.'. The table is fixed, so results do not depend on the
// host's mime database.
func ContentTypeFor(name string) string {
	i := strings.LastIndexByte(name, '.')
	if i < 0 || strings.IndexByte(name[i:], '/') >= 0 {
		return DefaultContentType
	}
	if ct, ok := contentTypes[strings.ToLower(name[i+1:])]; ok {
		return ct
	}
	return DefaultContentType
}

// Package texttospeech defines the synthesis boundary. Synthesis is a
// single request returning a complete audio buffer; the caller chunks and
// transport-encodes it for the media stream.
package texttospeech

import "encoding/base64"

// DefaultChunkSize is the fixed outbound media payload size in bytes.
const DefaultChunkSize = 640

// EncodeBase64Chunks splits an audio buffer into fixed-size payloads and
// base64-encodes each for the media stream.
func EncodeBase64Chunks(audio []byte, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	chunks := make([]string, 0, (len(audio)+chunkSize-1)/chunkSize)
	for i := 0; i < len(audio); i += chunkSize {
		end := min(i+chunkSize, len(audio))
		chunks = append(chunks, base64.StdEncoding.EncodeToString(audio[i:end]))
	}
	return chunks
}

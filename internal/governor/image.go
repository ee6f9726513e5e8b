package governor

import (
	"encoding/base64"
	"encoding/json"
	"regexp"
	"strings"
)

// Image limits.
const (
	MaxImageContentLength = 8 << 20
	MaxImageChars         = 7_000_000
)

var dataURLPattern = regexp.MustCompile(`^data:image/([A-Za-z0-9.+-]+);base64,(.+)$`)

var imageSubtypes = map[string]string{
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"webp": "image/webp",
	"heic": "image/heic",
	"heif": "image/heif",
}

// Image is a validated recognition payload.
type Image struct {
	DataURL string
	MIME    string
	Bytes   int
}

// CheckImage validates a recognition body. contentLength is the declared
// request size, or -1 when unknown.
func (g *Governor) CheckImage(raw []byte, contentLength int64) (Image, error) {
	if contentLength > MaxImageContentLength {
		return Image{}, reject(KindPayloadTooLarge, "declared content length exceeds %d bytes", MaxImageContentLength)
	}
	top, err := decodeObject(raw)
	if err != nil {
		return Image{}, err
	}
	rawImage, ok := top["image"]
	if !ok || isNull(rawImage) {
		return Image{}, reject(KindImageMissing, "image is required")
	}
	var dataURL string
	if err := json.Unmarshal(rawImage, &dataURL); err != nil {
		return Image{}, reject(KindImageNotString, "image must be a string")
	}
	dataURL = strings.TrimSpace(dataURL)
	if dataURL == "" {
		return Image{}, reject(KindImageMissing, "image is required")
	}
	if len(dataURL) > MaxImageChars {
		return Image{}, reject(KindImageTooLarge, "image exceeds %d characters", MaxImageChars)
	}

	m := dataURLPattern.FindStringSubmatch(dataURL)
	if m == nil {
		return Image{}, reject(KindImageInvalidFormat, "image must be a data:image/<type>;base64,<payload> URL")
	}
	mime, ok := imageSubtypes[strings.ToLower(m[1])]
	if !ok {
		return Image{}, reject(KindImageUnsupportedType, "image type %q is not supported", m[1])
	}
	decoded, err := decodeBase64(m[2])
	if err != nil || len(decoded) == 0 {
		return Image{}, reject(KindImageInvalidEncoding, "image payload is not valid base64")
	}
	return Image{DataURL: dataURL, MIME: mime, Bytes: len(decoded)}, nil
}

// decodeBase64 accepts standard and URL-safe alphabets, padded or not.
func decodeBase64(payload string) ([]byte, error) {
	for _, enc := range []*base64.Encoding{base64.StdEncoding, base64.URLEncoding, base64.RawStdEncoding, base64.RawURLEncoding} {
		if b, err := enc.DecodeString(payload); err == nil {
			return b, nil
		}
	}
	_, err := base64.StdEncoding.DecodeString(payload)
	return nil, err
}

package storage

import "encoding/base64"

const onePixelPNG = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="

func pngBytes() []byte {
	b, err := base64.StdEncoding.DecodeString(onePixelPNG)
	if err != nil {
		panic(err)
	}
	return b
}

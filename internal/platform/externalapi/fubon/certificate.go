package fubon

import (
	"crypto/tls"
	"fmt"
	"os"

	"golang.org/x/crypto/pkcs12"
)

// LoadClientCertificate は .pfx（PKCS#12）形式の電子証明書を読み込み、
// 相互TLSで提示できる tls.Certificate に変換します。
func LoadClientCertificate(path, password string) (tls.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read pfx: %w", err)
	}
	return decodePFX(data, password)
}

func decodePFX(data []byte, password string) (tls.Certificate, error) {
	key, cert, err := pkcs12.Decode(data, password)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decode pfx: %w", err)
	}
	return tls.Certificate{
		Certificate: [][]byte{cert.Raw},
		PrivateKey:  key,
		Leaf:        cert,
	}, nil
}

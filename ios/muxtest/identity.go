package muxtest

import (
	"bytes"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/pem"
	"errors"
	"fmt"
	"math/big"
	"net"
	"time"
)

// identity is a self signed certificate and its key, both PEM encoded.
type identity struct {
	cert []byte
	key  []byte
}

func newIdentity(commonName string) (identity, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return identity{}, err
	}
	serial, err := rand.Int(rand.Reader, big.NewInt(1<<62))
	if err != nil {
		return identity{}, err
	}
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: commonName},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth, x509.ExtKeyUsageClientAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return identity{}, err
	}
	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return identity{}, err
	}
	return identity{
		cert: pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}),
		key:  pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER}),
	}, nil
}

func mustIdentity(commonName string) identity {
	id, err := newIdentity(commonName)
	if err != nil {
		panic(fmt.Sprintf("muxtest: generating certificate for %s: %v", commonName, err))
	}
	return id
}

// serverTLS wraps conn the way the device does after it asked for SSL. The host must
// present the certificate from the device's pair record.
func serverTLS(conn net.Conn, d *Device) (net.Conn, error) {
	cert, err := tls.X509KeyPair(d.deviceIdentity.cert, d.deviceIdentity.key)
	if err != nil {
		return nil, err
	}
	block, _ := pem.Decode(d.PairRecord.HostCertificate)
	if block == nil {
		return nil, errors.New("pair record has no host certificate")
	}
	hostDER := block.Bytes
	conf := &tls.Config{
		Certificates: []tls.Certificate{cert},
		ClientAuth:   tls.RequireAnyClientCert,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			if len(rawCerts) == 0 || !bytes.Equal(rawCerts[0], hostDER) {
				return errors.New("host certificate does not match the pair record")
			}
			return nil
		},
	}
	return tls.Server(conn, conf), nil
}

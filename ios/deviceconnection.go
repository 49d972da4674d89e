package ios

import (
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"strings"

	log "github.com/sirupsen/logrus"
)

// DeviceConnectionInterface contains a physical network connection to a usbmuxd socket.
type DeviceConnectionInterface interface {
	Close() error
	Send(message []byte) error
	Reader() io.Reader
	Writer() io.Writer
	EnableSessionSsl(pairRecord PairRecord) error
}

// DeviceConnection wraps the net.Conn to the ios Device and has support for
// enabling SSL once lockdown or a service asks for it.
type DeviceConnection struct {
	c               net.Conn
	unencryptedConn net.Conn
	closed          bool
}

// NewDeviceConnection creates a new DeviceConnection connected to the given socket address.
func NewDeviceConnection(socketToConnectTo string) (*DeviceConnection, error) {
	conn := &DeviceConnection{}
	return conn, conn.connectToSocketAddress(socketToConnectTo)
}

func (conn *DeviceConnection) connectToSocketAddress(socketAddress string) error {
	if strings.HasPrefix(socketAddress, "/") {
		socketAddress = "unix://" + socketAddress
	}
	network, address, err := GetSocketTypeAndAddress(socketAddress)
	if err != nil {
		return err
	}
	c, err := net.Dial(network, address)
	if err != nil {
		return err
	}
	log.Tracef("Opening connection: %s", c.LocalAddr())
	conn.c = c
	return nil
}

// Close closes the network connection. Closing twice is a no-op.
func (conn *DeviceConnection) Close() error {
	if conn.c == nil || conn.closed {
		return nil
	}
	conn.closed = true
	log.Tracef("Closing connection: %s", conn.c.LocalAddr())
	return conn.c.Close()
}

// Send writes all bytes to the device. The connection is closed if writing fails.
func (conn *DeviceConnection) Send(bytes []byte) error {
	n, err := conn.c.Write(bytes)
	if err != nil {
		log.Debugf("Failed sending: %s", err)
		conn.Close()
		return err
	}
	if n < len(bytes) {
		return fmt.Errorf("DeviceConnection failed writing %d bytes, only %d sent", len(bytes), n)
	}
	return nil
}

// Reader exposes the underlying net.Conn as io.Reader
func (conn *DeviceConnection) Reader() io.Reader {
	return conn.c
}

// Writer exposes the underlying net.Conn as io.Writer
func (conn *DeviceConnection) Writer() io.Writer {
	return conn.c
}

// EnableSessionSsl wraps the underlying net.Conn in a client tls.Conn using the pairRecord.
func (conn *DeviceConnection) EnableSessionSsl(pairRecord PairRecord) error {
	tlsConn, err := conn.createClientTLSConn(pairRecord)
	if err != nil {
		return err
	}
	conn.unencryptedConn = conn.c
	conn.c = net.Conn(tlsConn)
	return nil
}

func (conn *DeviceConnection) createClientTLSConn(pairRecord PairRecord) (*tls.Conn, error) {
	hostCert, err := tls.X509KeyPair(pairRecord.HostCertificate, pairRecord.HostPrivateKey)
	if err != nil {
		return nil, fmt.Errorf("invalid host certificate in pair record: %w", err)
	}
	conf := &tls.Config{
		// The device presents a certificate signed by the pairing root, not a CA.
		InsecureSkipVerify: true,
		Certificates:       []tls.Certificate{hostCert},
		ClientAuth:         tls.NoClientCert,
	}

	tlsConn := tls.Client(conn.c, conf)
	err = tlsConn.Handshake()
	if err != nil {
		return nil, fmt.Errorf("tls handshake failed: %w", err)
	}
	log.Tracef("enabled session ssl on %s", conn.c.LocalAddr())
	return tlsConn, nil
}

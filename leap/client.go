package leap

import (
	"bufio"
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const DefaultPort = 8081
const dialTimeout = 10 * time.Second
const unsolicitedBufferSize = 64
const maxMessageSize = 1 << 20

var ErrClosed = errors.New("leap connection closed")

type Config struct {
	Host     string
	Port     int
	CertFile string
	KeyFile  string
	CaFile   string

	PingInterval string
}

func (cfg Config) address() string {
	port := cfg.Port
	if port == 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(cfg.Host, strconv.Itoa(port))
}

func (cfg Config) tlsConfig() (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertFile, cfg.KeyFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to load client certificate")
	}

	caPem, err := os.ReadFile(cfg.CaFile)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read bridge CA")
	}
	roots := x509.NewCertPool()
	if !roots.AppendCertsFromPEM(caPem) {
		return nil, errors.Errorf("no certificates found in %s", cfg.CaFile)
	}

	// bridge certificates are issued for the bridge serial, not its address,
	// so the chain is verified against the CA without a host name
	return &tls.Config{
		Certificates:       []tls.Certificate{cert},
		InsecureSkipVerify: true,
		VerifyPeerCertificate: func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
			return verifyBridgeChain(rawCerts, roots)
		},
	}, nil
}

func verifyBridgeChain(rawCerts [][]byte, roots *x509.CertPool) error {
	if len(rawCerts) == 0 {
		return errors.New("bridge presented no certificate")
	}
	certs := make([]*x509.Certificate, 0, len(rawCerts))
	for _, raw := range rawCerts {
		cert, err := x509.ParseCertificate(raw)
		if err != nil {
			return errors.Wrap(err, "failed to parse bridge certificate")
		}
		certs = append(certs, cert)
	}

	intermediates := x509.NewCertPool()
	for _, cert := range certs[1:] {
		intermediates.AddCert(cert)
	}
	_, err := certs[0].Verify(x509.VerifyOptions{
		Roots:         roots,
		Intermediates: intermediates,
	})
	return err
}

// Client speaks LEAP over a single connection. Responses are matched to
// requests by ClientTag; everything else is delivered on Unsolicited.
type Client struct {
	conn   net.Conn
	logger *log.Logger

	writeLock sync.Mutex

	lock    sync.Mutex
	pending map[string]chan *Response

	unsolicited chan *Response
	done        chan struct{}
	closeOnce   sync.Once
	err         error
}

func Dial(ctx context.Context, cfg Config) (*Client, error) {
	if len(cfg.Host) == 0 {
		return nil, errors.New("bridge host not set")
	}

	tlsConfig, err := cfg.tlsConfig()
	if err != nil {
		return nil, err
	}

	dialer := &tls.Dialer{
		NetDialer: &net.Dialer{Timeout: dialTimeout},
		Config:    tlsConfig,
	}
	conn, err := dialer.DialContext(ctx, "tcp", cfg.address())
	if err != nil {
		return nil, errors.Wrapf(err, "failed to dial bridge %s", cfg.address())
	}

	return NewClient(conn), nil
}

func NewClient(conn net.Conn) *Client {
	c := &Client{
		conn: conn,
		logger: log.NewWithOptions(os.Stderr, log.Options{
			Prefix: "LeapClient: ",
			Level:  log.GetLevel(),
		}),
		pending:     make(map[string]chan *Response),
		unsolicited: make(chan *Response, unsolicitedBufferSize),
		done:        make(chan struct{}),
	}

	go c.readLoop()
	return c
}

// Unsolicited is closed when the connection ends.
func (c *Client) Unsolicited() <-chan *Response {
	return c.unsolicited
}

func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the reason the connection ended, nil while it is alive.
func (c *Client) Err() error {
	select {
	case <-c.done:
		return c.err
	default:
		return nil
	}
}

func (c *Client) Close() error {
	c.shutdown(ErrClosed)
	return c.conn.Close()
}

func (c *Client) shutdown(reason error) {
	c.closeOnce.Do(func() {
		c.err = reason
		close(c.done)
	})
}

func (c *Client) readLoop() {
	defer close(c.unsolicited)

	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), maxMessageSize)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		resp := &Response{}
		if err := json.Unmarshal(line, resp); err != nil {
			c.logger.Warn("dropping undecodable message", "err", err)
			continue
		}
		c.dispatch(resp)
	}

	err := scanner.Err()
	if err == nil {
		err = ErrClosed
	}
	c.shutdown(err)
	c.conn.Close()

	c.lock.Lock()
	defer c.lock.Unlock()
	for tag, ch := range c.pending {
		close(ch)
		delete(c.pending, tag)
	}
}

func (c *Client) dispatch(resp *Response) {
	tag := resp.Header.ClientTag
	if len(tag) > 0 {
		c.lock.Lock()
		ch, found := c.pending[tag]
		if found {
			delete(c.pending, tag)
		}
		c.lock.Unlock()

		if found {
			ch <- resp
			return
		}
	}

	select {
	case c.unsolicited <- resp:
	default:
		c.logger.Warn("unsolicited queue full, dropping message", "url", resp.Header.Url, "type", resp.Header.MessageBodyType)
	}
}

func (c *Client) send(ctx context.Context, req Request) error {
	payload, err := json.Marshal(req)
	if err != nil {
		return errors.Wrap(err, "failed to marshal request")
	}
	payload = append(payload, '\r', '\n')

	c.writeLock.Lock()
	defer c.writeLock.Unlock()

	deadline, _ := ctx.Deadline()
	c.conn.SetWriteDeadline(deadline)
	_, err = c.conn.Write(payload)
	if err != nil {
		return errors.Wrap(err, "failed to write request")
	}
	return nil
}

// Request sends a communique and waits for the response carrying the same
// ClientTag. Non-success status codes are returned as *StatusError together
// with the response.
func (c *Client) Request(ctx context.Context, communiqueType string, url string, body interface{}) (*Response, error) {
	tag := uuid.NewString()
	ch := make(chan *Response, 1)

	c.lock.Lock()
	select {
	case <-c.done:
		c.lock.Unlock()
		return nil, errors.Wrap(c.err, "connection is down")
	default:
	}
	c.pending[tag] = ch
	c.lock.Unlock()

	req := Request{
		CommuniqueType: communiqueType,
		Header: Header{
			ClientTag: tag,
			Url:       url,
		},
		Body: body,
	}
	c.logger.Debug("sending request", "type", communiqueType, "url", url, "tag", tag)

	err := c.send(ctx, req)
	if err != nil {
		c.forget(tag)
		return nil, err
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, errors.Wrapf(c.Err(), "connection ended waiting for %s %s", communiqueType, url)
		}
		return resp, checkStatus(resp)
	case <-ctx.Done():
		c.forget(tag)
		return nil, errors.Wrapf(ctx.Err(), "waiting for %s %s", communiqueType, url)
	}
}

func (c *Client) forget(tag string) {
	c.lock.Lock()
	delete(c.pending, tag)
	c.lock.Unlock()
}

// Subscribe registers for updates on url. The bridge repeats the request's
// ClientTag on every following update, those land on Unsolicited.
func (c *Client) Subscribe(ctx context.Context, url string) error {
	_, err := c.Request(ctx, SubscribeRequest, url, nil)
	if err != nil {
		return errors.Wrapf(err, "failed to subscribe to %s", url)
	}
	return nil
}

type StatusError struct {
	Url        string
	StatusCode string
	Message    string
}

func (se *StatusError) Error() string {
	if len(se.Message) > 0 {
		return fmt.Sprintf("leap %s: %s (%s)", se.Url, se.StatusCode, se.Message)
	}
	return fmt.Sprintf("leap %s: %s", se.Url, se.StatusCode)
}

func checkStatus(resp *Response) error {
	code := resp.Header.StatusCodeInt()
	if resp.CommuniqueType != ExceptionResponse && (code == 0 || code < 300) {
		return nil
	}

	se := &StatusError{
		Url:        resp.Header.Url,
		StatusCode: resp.Header.StatusCode,
	}
	detail := ExceptionDetail{}
	if resp.UnmarshalBody(&detail) == nil {
		se.Message = detail.Message
	}
	return se
}

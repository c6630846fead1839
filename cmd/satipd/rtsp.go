package main

import (
	"bufio"
	"fmt"
	"net"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/satipd/satipd/pkg/logger"
	"github.com/satipd/satipd/pkg/server"
	"github.com/satipd/satipd/pkg/stream"
)

// rtspRequest is the minimal framing this server reads off the wire: a
// request line plus header fields, terminated by a blank line. Parsing
// the RTSP method grammar itself beyond this framing, and the transport
// parameter string carried in the URI query / Transport header, is out of
// scope here — ParseTransportParams in pkg/stream owns that subset.
type rtspRequest struct {
	method  string
	uri     string
	query   string
	headers map[string]string
}

// session remembers which stream/client slot an RTSP Session header maps
// to, since SAT>IP clients address subsequent requests by session rather
// than by repeating a stream index in the URI.
type session struct {
	streamID int
	clientID int
}

// rtspServer accepts RTSP control connections and dispatches SETUP/PLAY/
// TEARDOWN/OPTIONS/DESCRIBE to the named Stream, recording update results
// with the Supervisor so a failing frontend backs off.
type rtspServer struct {
	log *logger.Logger
	sup *server.Supervisor

	streamsMu sync.RWMutex
	streams   map[int]*stream.Stream

	sessionsMu sync.Mutex
	sessions   map[string]session
}

func newRTSPServer(sup *server.Supervisor, log *logger.Logger) *rtspServer {
	return &rtspServer{
		log:      log,
		sup:      sup,
		streams:  make(map[int]*stream.Stream),
		sessions: make(map[string]session),
	}
}

func (r *rtspServer) addStream(id int, s *stream.Stream) {
	r.streamsMu.Lock()
	defer r.streamsMu.Unlock()
	r.streams[id] = s
}

func (r *rtspServer) serve(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		go r.handleConn(conn)
	}
}

func (r *rtspServer) handleConn(conn net.Conn) {
	defer conn.Close()
	reader := bufio.NewReader(conn)

	for {
		req, err := readRequest(reader)
		if err != nil {
			return
		}

		resp := r.dispatch(conn, req)
		if _, err := conn.Write([]byte(resp)); err != nil {
			return
		}
	}
}

func readRequest(reader *bufio.Reader) (*rtspRequest, error) {
	line, err := reader.ReadString('\n')
	if err != nil {
		return nil, err
	}
	line = strings.TrimRight(line, "\r\n")
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return nil, fmt.Errorf("malformed request line %q", line)
	}

	uri := fields[1]
	path, query, _ := strings.Cut(uri, "?")
	_ = path

	req := &rtspRequest{method: strings.ToUpper(fields[0]), uri: uri, query: query, headers: map[string]string{}}

	for {
		hline, err := reader.ReadString('\n')
		if err != nil {
			return nil, err
		}
		hline = strings.TrimRight(hline, "\r\n")
		if hline == "" {
			break
		}
		key, value, ok := strings.Cut(hline, ":")
		if !ok {
			continue
		}
		req.headers[strings.ToLower(strings.TrimSpace(key))] = strings.TrimSpace(value)
	}

	return req, nil
}

func (r *rtspServer) dispatch(conn net.Conn, req *rtspRequest) string {
	cseq := req.headers["cseq"]

	switch req.method {
	case "OPTIONS":
		return rtspOK(cseq, map[string]string{"Public": "DESCRIBE, SETUP, PLAY, TEARDOWN, OPTIONS"})
	case "SETUP":
		return r.handleSetup(conn, req, cseq)
	case "PLAY":
		return r.handlePlay(req, cseq)
	case "DESCRIBE":
		return r.handleDescribe(req, cseq)
	case "TEARDOWN":
		return r.handleTeardown(req, cseq)
	default:
		return rtspStatus(cseq, 501, "Not Implemented", nil)
	}
}

func (r *rtspServer) handleSetup(conn net.Conn, req *rtspRequest, cseq string) string {
	rtpPort, rtcpPort, ok := parseClientPort(req.headers["transport"])
	if !ok {
		return rtspStatus(cseq, 461, "Unsupported Transport", nil)
	}

	remoteIP := remoteAddrIP(conn)
	requested := requestedDeliverySystem(req.query)

	r.streamsMu.RLock()
	defer r.streamsMu.RUnlock()

	for id, s := range r.streams {
		if !r.sup.CanAttempt(id) {
			continue
		}
		clientID, err := s.FindClientIDFor(remoteIP, rtpPort, rtcpPort, true, "", requested)
		if err != nil {
			continue
		}

		sessID := uuid.NewString()
		r.sessionsMu.Lock()
		r.sessions[sessID] = session{streamID: id, clientID: clientID}
		r.sessionsMu.Unlock()

		headers := map[string]string{
			"Session":   sessID,
			"Transport": req.headers["transport"],
		}
		return rtspOK(cseq, headers)
	}

	return rtspStatus(cseq, 453, "Not Enough Bandwidth", nil)
}

func (r *rtspServer) handlePlay(req *rtspRequest, cseq string) string {
	sess, s, err := r.resolveSession(req)
	if err != nil {
		return rtspStatus(cseq, 454, "Session Not Found", nil)
	}

	warnings := s.ProcessStream(req.query, sess.clientID, "PLAY")
	for _, w := range warnings {
		r.log.Warn("RTSP transport-parameter warning", "stream_id", sess.streamID, "warning", w)
	}

	err = s.Update(sess.clientID)
	r.sup.RecordUpdateResult(sess.streamID, err)
	if err != nil {
		return rtspStatus(cseq, 503, "Service Unavailable", nil)
	}

	return rtspOK(cseq, map[string]string{"Session": req.headers["session"]})
}

func (r *rtspServer) handleDescribe(req *rtspRequest, cseq string) string {
	_, s, err := r.resolveSession(req)
	if err != nil {
		return rtspStatus(cseq, 454, "Session Not Found", nil)
	}

	body := s.Properties().DescribeString()
	headers := map[string]string{
		"Content-Type":   "application/sdp",
		"Content-Length": strconv.Itoa(len(body)),
	}
	return rtspOK(cseq, headers) + body
}

func (r *rtspServer) handleTeardown(req *rtspRequest, cseq string) string {
	sess, s, err := r.resolveSession(req)
	if err != nil {
		return rtspStatus(cseq, 454, "Session Not Found", nil)
	}

	s.ProcessStream(req.query, sess.clientID, "TEARDOWN")
	s.Teardown(sess.clientID, true)

	r.sessionsMu.Lock()
	delete(r.sessions, req.headers["session"])
	r.sessionsMu.Unlock()

	return rtspOK(cseq, nil)
}

func (r *rtspServer) resolveSession(req *rtspRequest) (session, *stream.Stream, error) {
	id := req.headers["session"]

	r.sessionsMu.Lock()
	sess, ok := r.sessions[id]
	r.sessionsMu.Unlock()
	if !ok {
		return session{}, nil, fmt.Errorf("unknown session %q", id)
	}

	r.streamsMu.RLock()
	s, ok := r.streams[sess.streamID]
	r.streamsMu.RUnlock()
	if !ok {
		return session{}, nil, fmt.Errorf("unknown stream %d", sess.streamID)
	}

	// Touching the watchdog here means DESCRIBE (which never goes through
	// ProcessStream) still counts as activity keeping the session alive.
	s.TouchClient(sess.clientID)

	return sess, s, nil
}

func requestedDeliverySystem(query string) stream.DeliverySystem {
	pp, _ := stream.ParseTransportParams(query)
	if pp.Msys != nil {
		return *pp.Msys
	}
	return stream.DeliveryDVBS2
}

// parseClientPort extracts the RTP/RTCP port pair from a Transport
// header's client_port=X-Y token.
func parseClientPort(transport string) (rtpPort, rtcpPort int, ok bool) {
	for _, field := range strings.Split(transport, ";") {
		key, value, found := strings.Cut(field, "=")
		if !found || strings.TrimSpace(key) != "client_port" {
			continue
		}
		lo, hi, found := strings.Cut(value, "-")
		rtpPort, err1 := strconv.Atoi(strings.TrimSpace(lo))
		if !found {
			hi = lo
		}
		rtcpPort, err2 := strconv.Atoi(strings.TrimSpace(hi))
		if err1 != nil || err2 != nil {
			return 0, 0, false
		}
		return rtpPort, rtcpPort, true
	}
	return 0, 0, false
}

func remoteAddrIP(conn net.Conn) net.IP {
	host, _, err := net.SplitHostPort(conn.RemoteAddr().String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

func rtspOK(cseq string, headers map[string]string) string {
	return rtspStatus(cseq, 200, "OK", headers)
}

func rtspStatus(cseq string, code int, reason string, headers map[string]string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "RTSP/1.0 %d %s\r\n", code, reason)
	fmt.Fprintf(&b, "CSeq: %s\r\n", cseq)
	for k, v := range headers {
		fmt.Fprintf(&b, "%s: %s\r\n", k, v)
	}
	b.WriteString("\r\n")
	return b.String()
}

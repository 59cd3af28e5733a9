package httpparse_test

import (
	. "github.com/OmarIssa0/webserv/internal/httpparse"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Parse", func() {
	It("[TC-HP-001] reports NEED_MORE before the header terminator arrives", func() {
		res := Parse([]byte("GET / HTTP/1.1\r\nHost: x"), 1<<20)
		Expect(res.Outcome).To(Equal(NeedMore))
	})

	It("[TC-HP-002] frames a bodyless GET once the terminator arrives", func() {
		raw := []byte("GET /index.html?a=1 HTTP/1.1\r\nHost: example.com\r\n\r\n")
		res := Parse(raw, 1<<20)
		Expect(res.Outcome).To(Equal(Ready))
		Expect(res.Request.Method).To(Equal("GET"))
		Expect(res.Request.Path).To(Equal("/index.html"))
		Expect(res.Request.Query).To(Equal("a=1"))
		host, ok := res.Request.Header("Host")
		Expect(ok).To(BeTrue())
		Expect(host).To(Equal("example.com"))
		Expect(res.Consumed).To(Equal(len(raw)))
	})

	It("[TC-HP-003] FAILs 400 on an unknown method", func() {
		res := Parse([]byte("FROB / HTTP/1.1\r\nHost: x\r\n\r\n"), 1<<20)
		Expect(res.Outcome).To(Equal(Fail))
		Expect(res.StatusCode).To(Equal(400))
	})

	It("[TC-HP-004] waits for the full Content-Length body before READY", func() {
		head := []byte("POST /upload HTTP/1.1\r\nHost: x\r\nContent-Length: 5\r\n\r\n")
		res := Parse(head, 1<<20)
		Expect(res.Outcome).To(Equal(NeedMore))

		full := append(append([]byte{}, head...), []byte("hello")...)
		res = Parse(full, 1<<20)
		Expect(res.Outcome).To(Equal(Ready))
		Expect(string(res.Request.Body)).To(Equal("hello"))
		Expect(res.Consumed).To(Equal(len(full)))
	})

	It("[TC-HP-005] FAILs 413 when Content-Length exceeds the effective max body size", func() {
		raw := []byte("POST /upload HTTP/1.1\r\nHost: x\r\nContent-Length: 100\r\n\r\n")
		res := Parse(raw, 10)
		Expect(res.Outcome).To(Equal(Fail))
		Expect(res.StatusCode).To(Equal(413))
	})

	It("[TC-HP-006] decodes a chunked body once the terminator chunk arrives", func() {
		raw := []byte("POST /upload HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n" +
			"4\r\nWiki\r\n5\r\npedia\r\n0\r\n\r\n")
		res := Parse(raw, 1<<20)
		Expect(res.Outcome).To(Equal(Ready))
		Expect(string(res.Request.Body)).To(Equal("Wikipedia"))
	})

	It("[TC-HP-007] NEED_MORE while the chunked terminator has not arrived yet", func() {
		raw := []byte("POST /upload HTTP/1.1\r\nHost: x\r\nTransfer-Encoding: chunked\r\n\r\n4\r\nWiki\r\n")
		res := Parse(raw, 1<<20)
		Expect(res.Outcome).To(Equal(NeedMore))
	})

	It("[TC-HP-008] FAILs 431 once the header section exceeds MAX_HEADER_SIZE", func() {
		big := make([]byte, MaxHeaderSize+100)
		for i := range big {
			big[i] = 'a'
		}
		raw := append([]byte("GET / HTTP/1.1\r\nX-Big: "), big...)
		res := Parse(raw, 1<<20)
		Expect(res.Outcome).To(Equal(Fail))
		Expect(res.StatusCode).To(Equal(431))
	})

	It("[TC-HP-009] FAILs 400 on a malformed header line", func() {
		res := Parse([]byte("GET / HTTP/1.1\r\nNotAHeader\r\n\r\n"), 1<<20)
		Expect(res.Outcome).To(Equal(Fail))
		Expect(res.StatusCode).To(Equal(400))
	})

	It("[TC-HP-010] FAILs 400 when bytes follow a bodyless request with no framing header", func() {
		raw := []byte("GET / HTTP/1.1\r\nHost: x\r\n\r\nunexpected-trailing-bytes")
		res := Parse(raw, 1<<20)
		Expect(res.Outcome).To(Equal(Fail))
		Expect(res.StatusCode).To(Equal(400))
	})
})

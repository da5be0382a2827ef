// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package fence_test

import (
	"context"
	"net"
	"time"

	"github.com/carbynestack/ephemeral/pkg/fence"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"go.uber.org/zap"
)

func testLogger() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

// discardListener accepts and silently drains every connection it receives,
// standing in for a peer node's fence listener in tests that only exercise
// the dial/send half of a Coordinator.
func discardListener() string {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	Expect(err).NotTo(HaveOccurred())
	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				for {
					if _, err := conn.Read(buf); err != nil {
						return
					}
				}
			}()
		}
	}()
	return l.Addr().String()
}

var _ = Describe("Coordinator", func() {
	It("gathers peer contributions alongside its own local blob", func() {
		listenerA, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		listenerB, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())

		coordA := fence.NewCoordinator(10*time.Millisecond, testLogger())
		coordB := fence.NewCoordinator(10*time.Millisecond, testLogger())

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		go coordA.Serve(ctx, listenerA)
		go coordB.Serve(ctx, listenerB)

		type result struct {
			data []byte
			err  error
		}
		resA := make(chan result, 1)
		resB := make(chan result, 1)

		go func() {
			data, err := coordA.Run(ctx, []string{listenerB.Addr().String()}, []byte("alpha"))
			resA <- result{data, err}
		}()
		go func() {
			data, err := coordB.Run(ctx, []string{listenerA.Addr().String()}, []byte("beta"))
			resB <- result{data, err}
		}()

		rA := <-resA
		rB := <-resB
		Expect(rA.err).NotTo(HaveOccurred())
		Expect(rB.err).NotTo(HaveOccurred())
		Expect(string(rA.data)).To(ContainSubstring("alpha"))
		Expect(string(rA.data)).To(ContainSubstring("beta"))
		Expect(string(rB.data)).To(ContainSubstring("alpha"))
		Expect(string(rB.data)).To(ContainSubstring("beta"))
	})

	It("routes inbound connections to the oldest still-incomplete fence first", func() {
		listener, err := net.Listen("tcp", "127.0.0.1:0")
		Expect(err).NotTo(HaveOccurred())
		addr := listener.Addr().String()

		coord := fence.NewCoordinator(10*time.Millisecond, testLogger())
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		go coord.Serve(ctx, listener)

		peer := discardListener()

		type result struct {
			data []byte
			err  error
		}
		res1 := make(chan result, 1)
		res2 := make(chan result, 1)

		go func() {
			data, err := coord.Run(ctx, []string{peer}, []byte("fence1-local"))
			res1 <- result{data, err}
		}()
		time.Sleep(50 * time.Millisecond)
		go func() {
			data, err := coord.Run(ctx, []string{peer}, []byte("fence2-local"))
			res2 <- result{data, err}
		}()
		time.Sleep(50 * time.Millisecond)

		first, err := net.Dial("tcp", addr)
		Expect(err).NotTo(HaveOccurred())
		_, err = first.Write([]byte("AAA"))
		Expect(err).NotTo(HaveOccurred())
		Expect(first.(*net.TCPConn).CloseWrite()).To(Succeed())

		second, err := net.Dial("tcp", addr)
		Expect(err).NotTo(HaveOccurred())
		_, err = second.Write([]byte("BBB"))
		Expect(err).NotTo(HaveOccurred())
		Expect(second.(*net.TCPConn).CloseWrite()).To(Succeed())

		r1 := <-res1
		r2 := <-res2
		Expect(r1.err).NotTo(HaveOccurred())
		Expect(r2.err).NotTo(HaveOccurred())
		Expect(string(r1.data)).To(Equal("fence1-localAAA"))
		Expect(string(r2.data)).To(Equal("fence2-localBBB"))
	})
})

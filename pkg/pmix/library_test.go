// Copyright (c) 2021 - for information on the respective copyright owner
// see the NOTICE file and/or the repository https://github.com/carbynestack/ephemeral.
//
// SPDX-License-Identifier: Apache-2.0
package pmix_test

import (
	. "github.com/carbynestack/ephemeral/pkg/pmix"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Library", func() {
	var (
		lib   *Library
		srv   *Server
		proc  Proc
		ns    NSpaceID
		clean func()
	)

	BeforeEach(func() {
		ns = NewNSpaceID()
		proc = Proc{NSpace: ns, Rank: 0}
		var err error
		srv, err = Init(newTestContext(), "", testLogger())
		Expect(err).NotTo(HaveOccurred())
		lib = srv.Library()
		clean = func() { srv.Close() }
	})

	AfterEach(func() { clean() })

	It("stores and retrieves a local blob", func() {
		lib.StoreBlob(proc, []byte("hello"))
		blob, ok := lib.LocalBlob(proc)
		Expect(ok).To(BeTrue())
		Expect(blob).To(Equal([]byte("hello")))
	})

	It("reports no blob for an unknown proc", func() {
		_, ok := lib.LocalBlob(proc)
		Expect(ok).To(BeFalse())
	})

	It("rejects a fence request carrying a required, unrecognized info key", func() {
		status := lib.FenceNB(1, []Info{{Key: "pmix.bogus", Required: true}}, []Proc{proc}, nil, func(Status, []byte) {})
		Expect(status).To(Equal(StatusErrBadParam))
	})

	It("accepts a fence request and publishes a FenceEvent asynchronously", func() {
		status := lib.FenceNB(1, nil, []Proc{proc}, []byte("data"), func(Status, []byte) {})
		Expect(status).To(Equal(StatusSuccess))
		var ev Event
		Eventually(srv.Events()).Should(Receive(&ev))
		fe, ok := ev.(FenceEvent)
		Expect(ok).To(BeTrue())
		Expect(fe.Data).To(Equal([]byte("data")))
	})

	It("returns OperationSucceeded synchronously for client_connected", func() {
		Expect(lib.ClientConnected(proc)).To(Equal(StatusOperationSucceeded))
	})

	It("returns ErrNotSupported for every unimplemented entry point", func() {
		Expect(lib.Publish(proc, nil)).To(Equal(StatusErrNotSupported))
		Expect(lib.Lookup(proc, nil)).To(Equal(StatusErrNotSupported))
		Expect(lib.Spawn(nil)).To(Equal(StatusErrNotSupported))
		Expect(lib.Connect(nil)).To(Equal(StatusErrNotSupported))
		Expect(lib.Abort(proc, "because")).To(Equal(StatusErrNotSupported))
	})
})

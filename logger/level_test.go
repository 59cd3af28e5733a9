package logger_test

import (
	"github.com/sirupsen/logrus"

	. "github.com/OmarIssa0/webserv/logger"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Level", func() {
	Describe("String", func() {
		It("[TC-LG-001] renders the known levels", func() {
			Expect(InfoLevel.String()).To(Equal("Info"))
			Expect(ErrorLevel.String()).To(Equal("Error"))
			Expect(NilLevel.String()).To(BeEmpty())
		})
	})

	Describe("Logrus", func() {
		It("[TC-LG-002] maps onto the matching logrus.Level", func() {
			Expect(InfoLevel.Logrus()).To(Equal(logrus.InfoLevel))
			Expect(DebugLevel.Logrus()).To(Equal(logrus.DebugLevel))
			Expect(WarnLevel.Logrus()).To(Equal(logrus.WarnLevel))
		})
	})

	Describe("Parse", func() {
		It("[TC-LG-003] is case-insensitive and accepts short codes", func() {
			Expect(Parse("DEBUG")).To(Equal(DebugLevel))
			Expect(Parse("warn")).To(Equal(WarnLevel))
			Expect(Parse("err")).To(Equal(ErrorLevel))
		})

		It("[TC-LG-004] defaults unknown input to InfoLevel", func() {
			Expect(Parse("not-a-level")).To(Equal(InfoLevel))
		})
	})
})

var _ = Describe("default logger", func() {
	It("[TC-LG-005] GetCurrentLevel reflects SetLevel", func() {
		SetLevel(DebugLevel)
		Expect(GetCurrentLevel()).To(Equal(DebugLevel))
		SetLevel(InfoLevel)
		Expect(GetCurrentLevel()).To(Equal(InfoLevel))
	})

	It("[TC-LG-006] GetDefault returns a usable logrus.Logger", func() {
		Expect(GetDefault()).ToNot(BeNil())
	})
})

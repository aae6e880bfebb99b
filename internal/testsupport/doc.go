// Package testsupport builds isolated gateway configurations for tests.
package testsupport

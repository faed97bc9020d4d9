// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Dossier Contributors

package errors_test

import (
	stderrors "errors"
	"net/http"
	"testing"

	dserr "github.com/dossier-dev/dossier/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIncludesCodeAndFields(t *testing.T) {
	err := dserr.New(
		dserr.CodeIndexAppendInvalid,
		"vector and metadata counts differ",
		dserr.FieldOwner("alice"),
		dserr.Field("vectors", 3),
	)

	require.Error(t, err)
	assert.Equal(t, dserr.CodeIndexAppendInvalid, dserr.CodeOf(err))
	assert.True(t, dserr.HasCode(err, dserr.CodeIndexAppendInvalid))

	fields := dserr.FieldsOf(err)
	assert.Equal(t, "alice", fields["owner"])
	assert.Equal(t, 3, fields["vectors"])
}

func TestErrorfFormatsMessage(t *testing.T) {
	err := dserr.Errorf(dserr.CodeExtractPDFRenderFailure, "rasterizing %s: exit %d", "scan.pdf", 2)
	require.Error(t, err)
	assert.Equal(t, dserr.CodeExtractPDFRenderFailure, dserr.CodeOf(err))
	assert.Contains(t, err.Error(), "rasterizing scan.pdf: exit 2")
}

func TestErrorfWrapsInnerError(t *testing.T) {
	inner := stderrors.New("connection refused")
	err := dserr.Errorf(dserr.CodeOCRUpstreamFailure, "ocr call failed: %w", inner)
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, dserr.CodeOCRUpstreamFailure, dserr.CodeOf(err))
}

func TestWrapNilReturnsNil(t *testing.T) {
	assert.NoError(t, dserr.Wrap(nil, dserr.CodeIndexLoadFailure, "loading index"))
	assert.NoError(t, dserr.Wrapf(nil, dserr.CodeIndexLoadFailure, "loading index %s", "x"))
}

func TestWrapPreservesInnerError(t *testing.T) {
	inner := stderrors.New("unexpected EOF")
	err := dserr.Wrap(inner, dserr.CodeIndexLoadFailure, "decoding vector file", dserr.FieldFile("index.bin"))
	require.Error(t, err)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "index.bin", dserr.FieldsOf(err)["file"])
}

func TestClassifiers(t *testing.T) {
	assert.True(t, dserr.IsNotFound(dserr.New(dserr.CodeIndexDeleteNotFound, "no match")))
	assert.True(t, dserr.IsInvalidInput(dserr.New(dserr.CodeEmbedInputInvalid, "empty text")))
	assert.True(t, dserr.IsInvalidInput(dserr.New(dserr.CodeExtractFileUnsupported, "bad ext")))
	assert.True(t, dserr.IsEmptyResult(dserr.New(dserr.CodeIngestExtractEmpty, "no chunks")))
	assert.True(t, dserr.IsUpstreamFailure(dserr.New(dserr.CodeEmbedUpstreamFailure, "503")))
	assert.False(t, dserr.IsUpstreamFailure(dserr.New(dserr.CodeIndexLoadFailure, "corrupt")))
	assert.False(t, dserr.IsNotFound(nil))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, dserr.Code(""), dserr.CodeOf(stderrors.New("plain")))
	assert.Equal(t, dserr.Code(""), dserr.CodeOf(nil))
}

func TestHTTPStatus(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"not found", dserr.New(dserr.CodeIndexDeleteNotFound, "x"), http.StatusNotFound},
		{"invalid input", dserr.New(dserr.CodeServerRequestInvalid, "x"), http.StatusBadRequest},
		{"empty result", dserr.New(dserr.CodeIngestExtractEmpty, "x"), http.StatusUnprocessableEntity},
		{"upstream", dserr.New(dserr.CodeOCRUpstreamFailure, "x"), http.StatusBadGateway},
		{"fallback", dserr.New(dserr.CodeServerInternalFailure, "x"), http.StatusInternalServerError},
		{"plain error", stderrors.New("plain"), http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, dserr.HTTPStatus(tc.err))
		})
	}
}

func TestJoinCombinesErrors(t *testing.T) {
	a := stderrors.New("first")
	b := stderrors.New("second")
	err := dserr.Join(a, b)
	require.Error(t, err)
	assert.ErrorIs(t, err, a)
	assert.ErrorIs(t, err, b)
}

// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package feed

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/luxfi/liquidity-exex/internal/whitelist"
)

func TestParseFullSnapshot(t *testing.T) {
	data := []byte(`{
		"type": "full",
		"chain": "ethereum",
		"pools": [
			{"protocol": "v2", "address": "0x1111111111111111111111111111111111111111"},
			{"protocol": "v4", "pool_id": "0x2222222222222222222222222222222222222222222222222222222222222222"}
		]
	}`)
	m, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, whitelist.Replace, m.Kind)
	require.Len(t, m.Descriptors, 2)
}

func TestParseMissingTypeDefaultsToFull(t *testing.T) {
	data := []byte(`{"pools": []}`)
	m, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, whitelist.Replace, m.Kind)
}

func TestParseAdd(t *testing.T) {
	data := []byte(`{"type":"add","pools":[{"protocol":"v3","address":"0x3333333333333333333333333333333333333333","fee":500}]}`)
	m, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, whitelist.Add, m.Kind)
	require.Len(t, m.Descriptors, 1)
	require.NotNil(t, m.Descriptors[0].Fee)
	require.Equal(t, uint32(500), *m.Descriptors[0].Fee)
}

func TestParseRemoveBareHexIdentifiers(t *testing.T) {
	data := []byte(`{"type":"remove","pools":["0x1111111111111111111111111111111111111111"]}`)
	m, err := Parse(data)
	require.NoError(t, err)
	require.Equal(t, whitelist.Remove, m.Kind)
	require.Len(t, m.Identifiers, 1)
	_, ok := m.Identifiers[0].Address()
	require.True(t, ok)
}

func TestParseV4MissingPoolIDFails(t *testing.T) {
	data := []byte(`{"type":"add","pools":[{"protocol":"v4"}]}`)
	_, err := Parse(data)
	require.Error(t, err)
}

func TestParseUnknownTypeFails(t *testing.T) {
	_, err := Parse([]byte(`{"type":"bogus","pools":[]}`))
	require.Error(t, err)
}

func TestSubjectFormat(t *testing.T) {
	require.Equal(t, "whitelist.pools.ethereum.minimal", Subject("ethereum"))
}

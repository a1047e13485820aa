package raft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeVoterConfig() Configuration {
	return Configuration{Servers: []Server{
		{ID: 1, Address: "127.0.0.1:9001", Role: RoleVoter},
		{ID: 2, Address: "127.0.0.1:9002", Role: RoleVoter},
		{ID: 3, Address: "127.0.0.1:9003", Role: RoleVoter},
	}}
}

func TestConfigurationIndexAndGet(t *testing.T) {
	c := threeVoterConfig()

	assert.Equal(t, 1, c.Index(2))
	assert.Equal(t, -1, c.Index(99))

	s, ok := c.Get(2)
	require.True(t, ok)
	assert.Equal(t, uint64(2), s.ID)

	_, ok = c.Get(99)
	assert.False(t, ok)
}

func TestConfigurationVotersAndMajority(t *testing.T) {
	c := threeVoterConfig()
	c.Servers = append(c.Servers, Server{ID: 4, Address: "127.0.0.1:9004", Role: RoleStandby})

	assert.Len(t, c.Voters(), 3)
	assert.Equal(t, 3, c.NVoters())
	assert.Equal(t, 2, c.Majority())
}

func TestConfigurationValidate(t *testing.T) {
	tests := []struct {
		name    string
		config  Configuration
		wantErr error
	}{
		{
			name:   "valid three voter config",
			config: threeVoterConfig(),
		},
		{
			name: "duplicate id",
			config: Configuration{Servers: []Server{
				{ID: 1, Address: "a", Role: RoleVoter},
				{ID: 1, Address: "b", Role: RoleVoter},
			}},
			wantErr: ErrDuplicateID,
		},
		{
			name: "duplicate address",
			config: Configuration{Servers: []Server{
				{ID: 1, Address: "a", Role: RoleVoter},
				{ID: 2, Address: "a", Role: RoleVoter},
			}},
			wantErr: ErrDuplicateAddress,
		},
		{
			name: "no voters",
			config: Configuration{Servers: []Server{
				{ID: 1, Address: "a", Role: RoleSpare},
			}},
			wantErr: ErrNoVoters,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.Equal(t, tt.wantErr, err)
			}
		})
	}
}

func TestConfigurationCloneIsIndependent(t *testing.T) {
	c := threeVoterConfig()
	clone := c.Clone()
	clone.Servers[0].Address = "changed"

	assert.NotEqual(t, c.Servers[0].Address, clone.Servers[0].Address)
}

func TestConfigurationEncodeDecodeRoundTrip(t *testing.T) {
	tests := []Configuration{
		threeVoterConfig(),
		{Servers: []Server{{ID: 7, Address: "x", Role: RoleSpare}}},
		{Servers: []Server{
			{ID: 1, Address: "127.0.0.1:9001", Role: RoleVoter},
			{ID: 2, Address: "standby.example:9002", Role: RoleStandby},
		}},
	}

	for i, c := range tests {
		got, err := Decode(Encode(c))
		require.NoError(t, err, "case %d", i)
		assert.Equal(t, c, got)
	}
}

func TestConfigurationDecodeTruncated(t *testing.T) {
	_, err := Decode([]byte{configVersion, 0, 0, 0})
	assert.Error(t, err)
}

func TestConfigurationDecodeUnsupportedVersion(t *testing.T) {
	full := Encode(threeVoterConfig())
	full[0] = configVersion + 1
	_, err := Decode(full)
	assert.Error(t, err)
}

func TestRoleString(t *testing.T) {
	assert.Equal(t, "voter", RoleVoter.String())
	assert.Equal(t, "standby", RoleStandby.String())
	assert.Equal(t, "spare", RoleSpare.String())
	assert.Equal(t, "unknown", Role(99).String())
}

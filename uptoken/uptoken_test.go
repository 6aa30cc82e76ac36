package uptoken

import (
	"encoding/base64"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/bitrise-io/go-kodo/config"
	"github.com/bitrise-io/go-kodo/credential"
	"github.com/bitrise-io/go-kodo/kodoerr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var callbackURLs = []string{"https://apin1.qiniu.com/callback", "https://apin2.qiniu.com/callback"}

func requireTestPolicy(t *testing.T, policy *Policy, deadline time.Time) {
	assert.Equal(t, "test-bucket", policy.Bucket())
	assert.True(t, policy.IsInsertOnly())
	assert.False(t, policy.IsInfrequentStorageUsed())
	assert.Equal(t, deadline.Unix(), policy.Deadline().Unix())
	assert.Equal(t, callbackURLs, policy.CallbackURLs())

	body, ok := policy.CallbackBody()
	assert.True(t, ok)
	assert.Equal(t, "key=$(key)", body)
	_, ok = policy.CallbackBodyType()
	assert.False(t, ok)
}

func TestPolicyBuilder(t *testing.T) {
	deadline := time.Now().Add(time.Hour)
	builder := ForBucket("test-bucket", config.Default()).
		TokenDeadline(deadline).
		InsertOnly().
		Callback(callbackURLs, "", "key=$(key)", "")

	policy, err := builder.Build()
	require.NoError(t, err)
	assert.True(t, builder.IsConsumed())
	requireTestPolicy(t, policy, deadline)

	_, hasKey := policy.Key()
	assert.False(t, hasKey)

	// setters of a consumed builder are ignored
	builder.Overwritable()
	assert.True(t, policy.IsInsertOnly())
	_, err = builder.Build()
	require.ErrorIs(t, err, ErrBuilderConsumed)
}

func TestPolicyBuilder_DefaultLifetime(t *testing.T) {
	cfg := config.Default()
	cfg.UploadTokenLifetime = 2 * time.Hour

	policy, err := ForBucket("test-bucket", cfg).Build()
	require.NoError(t, err)

	assert.WithinDuration(t, time.Now().Add(2*time.Hour), policy.Deadline(), 5*time.Second)
}

func TestPolicyBuilder_Scopes(t *testing.T) {
	objectPolicy, err := ForObject("test-bucket", "test:key", nil).Build()
	require.NoError(t, err)
	key, ok := objectPolicy.Key()
	require.True(t, ok)
	assert.Equal(t, "test:key", key)
	_, ok = objectPolicy.KeyPrefix()
	assert.False(t, ok)

	prefixPolicy, err := ForObjectsWithPrefix("test-bucket", "photos/", nil).Build()
	require.NoError(t, err)
	prefix, ok := prefixPolicy.KeyPrefix()
	require.True(t, ok)
	assert.Equal(t, "photos/", prefix)
	_, ok = prefixPolicy.Key()
	assert.False(t, ok)

	_, err = ForBucket("", nil).Build()
	require.ErrorIs(t, err, ErrEmptyBucket)
}

func TestPolicy_WireFormat(t *testing.T) {
	policy, err := ForBucket("test-bucket", nil).
		TokenDeadline(time.Unix(1700000000, 0)).
		MIMEWhitelist("image/jpeg", "image/png").
		FileSizeLimit(0, 1024).
		InfrequentStorage().
		Build()
	require.NoError(t, err)

	data, err := json.Marshal(policy)
	require.NoError(t, err)
	assert.JSONEq(t, `{"scope":"test-bucket","deadline":1700000000,"mimeLimit":"image/jpeg;image/png","fsizeLimit":1024,"fileType":1}`, string(data))
	assert.Equal(t, []string{"image/jpeg", "image/png"}, policy.MIMEWhitelist())
}

func TestUploadToken_RoundTrip(t *testing.T) {
	cred := credential.New("abcdefghklmnopq", "1234567890")
	deadline := time.Now().Add(time.Hour)
	policy, err := ForBucket("test-bucket", nil).
		TokenDeadline(deadline).
		InsertOnly().
		Callback(callbackURLs, "", "key=$(key)", "").
		Build()
	require.NoError(t, err)

	token, err := NewFromPolicy(policy, cred)
	require.NoError(t, err)

	accessKey, err := token.AccessKey()
	require.NoError(t, err)
	assert.Equal(t, "abcdefghklmnopq", accessKey)
	assert.True(t, strings.HasPrefix(token.String(), "abcdefghklmnopq:"))

	parsed := Parse(token.String())
	accessKey, err = parsed.AccessKey()
	require.NoError(t, err)
	assert.Equal(t, "abcdefghklmnopq", accessKey)

	parsedPolicy, err := parsed.Policy()
	require.NoError(t, err)
	requireTestPolicy(t, parsedPolicy, deadline)

	data, err := json.Marshal(policy)
	require.NoError(t, err)
	assert.Equal(t, cred.SignWithData(data), token.String())
}

func TestUploadToken_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "empty", token: ""},
		{name: "missing parts", token: "ak:sign"},
		{name: "not base64", token: "ak:sign:%%%"},
		{name: "not json", token: "ak:sign:" + base64.URLEncoding.EncodeToString([]byte("{"))},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.token).Policy()
			require.ErrorIs(t, err, ErrInvalidUploadToken)
		})
	}

	_, err := Parse("ak:sign:" + base64.URLEncoding.EncodeToString([]byte("{"))).Policy()
	_, ok := kodoerr.AsJSON(err)
	assert.True(t, ok)
}

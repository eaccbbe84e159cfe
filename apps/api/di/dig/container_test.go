package dig_container

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/trezcool/kupanda/apps/api/echo"
	"github.com/trezcool/kupanda/core"
	"github.com/trezcool/kupanda/core/transition"
)

func TestNew(t *testing.T) {
	t.Setenv("ENV", "TEST")
	t.Setenv("TEST_STORE_ENGINE", core.StoreMemory)
	t.Setenv("TEST_REDIS_ADDR", "")

	c := New()
	err := c.Invoke(func(conf *core.Config, store core.DocStore, svc transition.ServiceInterface, server *echoapi.Server) {
		assert.True(t, conf.TestMode)
		assert.Equal(t, core.DefaultMaxBatchOps, store.MaxBatchOps())
		assert.NotNil(t, svc)
		assert.NotNil(t, server)
	})
	require.NoError(t, err)
}

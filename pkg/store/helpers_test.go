package store_test

import (
	"github.com/m-mizutani/goerr/v2"

	"github.com/johncui/mnemo/pkg/model"
)

func goerrIsStore(err error) bool {
	return goerr.HasTag(err, model.TagStore)
}

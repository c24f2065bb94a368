package main

import "github.com/lea-sql/lea/internal/model"

func exitCodeFor(err error) int {
	return model.ExitCode(err)
}

package mocks

//go:generate mockery --name ObjectStore --srcpkg github.com/vd-speed-test/speedroll/internal/core/storage --output ./storage --outpkg storagemocks --with-expecter
//go:generate mockery --name Runner --srcpkg github.com/vd-speed-test/speedroll/internal/aggregation --output ./aggregation --outpkg aggregationmocks --with-expecter

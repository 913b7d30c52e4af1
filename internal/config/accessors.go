package config

// Accessors tolerate nil receivers so a missing section reads as defaults.

// GetSequence returns the sequence value or the default.
func (e *EvaluationConfig) GetSequence() string {
	if e == nil || e.Sequence == nil {
		return SequenceTwoImage
	}
	return *e.Sequence
}

// GetSkip returns the skip value or the default.
func (e *EvaluationConfig) GetSkip() int {
	if e == nil || e.Skip == nil {
		return 0
	}
	return *e.Skip
}

// GetSumOfCorrelation returns the sum_of_correlation value or the default.
func (e *EvaluationConfig) GetSumOfCorrelation() bool {
	if e == nil || e.SumOfCorrelation == nil {
		return false
	}
	return *e.SumOfCorrelation
}

// GetShearWindows returns the shear_windows value or the default.
func (e *EvaluationConfig) GetShearWindows() bool {
	if e == nil || e.ShearWindows == nil {
		return false
	}
	return *e.ShearWindows
}

// GetPasses returns the passes value or the default.
func (e *EvaluationConfig) GetPasses() int {
	if e == nil || e.Passes == nil {
		return 3
	}
	return *e.Passes
}

// GetWindows returns the per-pass window table or the default table.
func (e *EvaluationConfig) GetWindows() []PassWindow {
	if e == nil || len(e.Windows) == 0 {
		return DefaultWindows()
	}
	return e.Windows
}

// GetROI returns the region of interest, or nil to evaluate the full frame.
func (e *EvaluationConfig) GetROI() *ROI {
	if e == nil {
		return nil
	}
	return e.ROI
}

// GetPreShift returns the first-pass pre-shift in pixels.
func (e *EvaluationConfig) GetPreShift() (int, int) {
	if e == nil {
		return 0, 0
	}
	var x, y int
	if e.PreShiftX != nil {
		x = *e.PreShiftX
	}
	if e.PreShiftY != nil {
		y = *e.PreShiftY
	}
	return x, y
}

// GetNormMedianTest returns the normalized_median_test value or the default.
func (e *EvaluationConfig) GetNormMedianTest() bool {
	if e == nil || e.NormMedianTest == nil {
		return true
	}
	return *e.NormMedianTest
}

// GetReplace returns the replace value or the default.
func (e *EvaluationConfig) GetReplace() bool {
	if e == nil || e.Replace == nil {
		return true
	}
	return *e.Replace
}

// GetMedian returns the median value or the default.
func (e *EvaluationConfig) GetMedian() bool {
	if e == nil || e.Median == nil {
		return false
	}
	return *e.Median
}

// GetSmoothing returns the smoothing value or the default.
func (e *EvaluationConfig) GetSmoothing() bool {
	if e == nil || e.Smoothing == nil {
		return true
	}
	return *e.Smoothing
}

// GetPeakEstimator returns the peak_estimator value or the default.
func (e *EvaluationConfig) GetPeakEstimator() string {
	if e == nil || e.PeakEstimator == nil || *e.PeakEstimator == "" {
		return PeakAuto
	}
	return *e.PeakEstimator
}

// GetWorkers returns the workers value or the default.
func (e *EvaluationConfig) GetWorkers() int {
	if e == nil || e.Workers == nil {
		return 0
	}
	return *e.Workers
}

// GetExport returns the correlation export selection. Vector and pass are
// 1-based as written in the file and 0 selects all of them; ok is false when
// export is disabled.
func (e *EvaluationConfig) GetExport() (vector, pass int, onlySumOfCorr, ok bool) {
	if e == nil || e.Export == nil || e.Export.Enabled == nil || !*e.Export.Enabled {
		return 0, 0, false, false
	}
	vector, pass = 1, 1
	if e.Export.Vector != nil {
		vector = *e.Export.Vector
	}
	if e.Export.Pass != nil {
		pass = *e.Export.Pass
	}
	if e.Export.OnlySumOfCorrMap != nil {
		onlySumOfCorr = *e.Export.OnlySumOfCorrMap
	}
	return vector, pass, onlySumOfCorr, true
}

// GetNoiseLevel returns the noise_level value or the default.
func (f *FilterConfig) GetNoiseLevel() float64 {
	if f == nil || f.NoiseLevel == nil {
		return 0.1
	}
	return *f.NoiseLevel
}

// GetThreshold returns the threshold value or the default.
func (f *FilterConfig) GetThreshold() float64 {
	if f == nil || f.Threshold == nil {
		return 2.0
	}
	return *f.Threshold
}

// GetMinNeighbours returns the min_neighbours value or the default.
func (f *FilterConfig) GetMinNeighbours() int {
	if f == nil || f.MinNeighbours == nil {
		return 3
	}
	return *f.MinNeighbours
}

// GetReference returns the reference displacement to subtract.
func (f *FilterConfig) GetReference() (float64, float64) {
	if f == nil {
		return 0, 0
	}
	var dx, dy float64
	if f.ReferenceDx != nil {
		dx = *f.ReferenceDx
	}
	if f.ReferenceDy != nil {
		dy = *f.ReferenceDy
	}
	return dx, dy
}

// GetDoubleFrame returns the double_frame value or the default.
func (s *SinglePixelConfig) GetDoubleFrame() bool {
	if s == nil || s.DoubleFrame == nil {
		return false
	}
	return *s.DoubleFrame
}

// GetROI returns the region of interest or the default 64x64 corner. Corners
// are inclusive.
func (s *SinglePixelConfig) GetROI() ROI {
	if s == nil || s.ROI == nil {
		return ROI{X1: 0, Y1: 0, X2: 63, Y2: 63}
	}
	return *s.ROI
}

// GetDomainWidth returns the domain_width value or the default.
func (s *SinglePixelConfig) GetDomainWidth() int {
	if s == nil || s.DomainWidth == nil {
		return 7
	}
	return *s.DomainWidth
}

// GetDomainHeight returns the domain_height value or the default.
func (s *SinglePixelConfig) GetDomainHeight() int {
	if s == nil || s.DomainHeight == nil {
		return 7
	}
	return *s.DomainHeight
}

// GetPreShift returns the constant pre-shift in pixels.
func (s *SinglePixelConfig) GetPreShift() (int, int) {
	if s == nil {
		return 0, 0
	}
	var x, y int
	if s.PreShiftX != nil {
		x = *s.PreShiftX
	}
	if s.PreShiftY != nil {
		y = *s.PreShiftY
	}
	return x, y
}

// GetPreShiftFromPIV returns the pre_shift_from_evaluation value or the default.
func (s *SinglePixelConfig) GetPreShiftFromPIV() bool {
	if s == nil || s.PreShiftFromPIV == nil {
		return false
	}
	return *s.PreShiftFromPIV
}

// GetThreeByThree returns the three_by_three value or the default.
func (s *SinglePixelConfig) GetThreeByThree() bool {
	if s == nil || s.ThreeByThree == nil {
		return false
	}
	return *s.ThreeByThree
}

// GetSignalOnly returns the signal_only value or the default.
func (s *SinglePixelConfig) GetSignalOnly() bool {
	if s == nil || s.SignalOnly == nil {
		return true
	}
	return *s.SignalOnly
}

// GetDz returns the dz value or the default.
func (r *ReconstructionConfig) GetDz() float64 {
	if r == nil || r.Dz == nil {
		return 16
	}
	return *r.Dz
}

// GetSkip returns the skip value or the default.
func (r *ReconstructionConfig) GetSkip() int {
	if r == nil || r.Skip == nil {
		return 0
	}
	return *r.Skip
}

// GetLinearRegression returns the linear_regression value or the default.
func (r *ReconstructionConfig) GetLinearRegression() bool {
	if r == nil || r.LinearRegression == nil {
		return false
	}
	return *r.LinearRegression
}

// GetDestination returns the destination base name or the default.
func (o *OutputConfig) GetDestination() string {
	if o == nil || o.Destination == nil || *o.Destination == "" {
		return "deleteme"
	}
	return *o.Destination
}

// GetHeader returns the header value or the default.
func (o *OutputConfig) GetHeader() bool {
	if o == nil || o.Header == nil {
		return true
	}
	return *o.Header
}

// GetUseImageBaseName returns the use_image_base_name value or the default.
func (o *OutputConfig) GetUseImageBaseName() bool {
	if o == nil || o.UseImageBaseName == nil {
		return false
	}
	return *o.UseImageBaseName
}

// GetPath returns the catalog database path; empty disables the catalog.
func (c *CatalogConfig) GetPath() string {
	if c == nil || c.Path == nil {
		return ""
	}
	return *c.Path
}

// GetEndpoint returns the endpoint value; empty disables publishing.
func (p *PublishConfig) GetEndpoint() string {
	if p == nil || p.Endpoint == nil {
		return ""
	}
	return *p.Endpoint
}

// GetBucket returns the bucket value.
func (p *PublishConfig) GetBucket() string {
	if p == nil || p.Bucket == nil {
		return ""
	}
	return *p.Bucket
}

// GetPrefix returns the object key prefix.
func (p *PublishConfig) GetPrefix() string {
	if p == nil || p.Prefix == nil {
		return ""
	}
	return *p.Prefix
}

// GetSecure returns the secure value or the default.
func (p *PublishConfig) GetSecure() bool {
	if p == nil || p.Secure == nil {
		return true
	}
	return *p.Secure
}

// GetAccessKeyEnv returns the name of the access key variable.
func (p *PublishConfig) GetAccessKeyEnv() string {
	if p == nil || p.AccessKeyEnv == nil || *p.AccessKeyEnv == "" {
		return "PIV_S3_ACCESS_KEY"
	}
	return *p.AccessKeyEnv
}

// GetSecretKeyEnv returns the name of the secret key variable.
func (p *PublishConfig) GetSecretKeyEnv() string {
	if p == nil || p.SecretKeyEnv == nil || *p.SecretKeyEnv == "" {
		return "PIV_S3_SECRET_KEY"
	}
	return *p.SecretKeyEnv
}

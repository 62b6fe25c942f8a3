// Package quantization implements Product Quantization (PQ) for the on-disk
// index's vectors: each vector is split into equal-width subvectors, and
// each subvector is independently quantized against a k-means-trained
// codebook of up to 256 centroids, yielding one uint8 code per subvector.
//
// A query's distance to a PQ-encoded vector is approximated via asymmetric
// distance computation (ADC): a per-query distance table of size
// numSubvectors*numCentroids is built once, then each candidate's distance
// is a table lookup and sum, not a full dimension-by-dimension comparison.
//
//	pq, _ := quantization.NewProductQuantizer(dim, numSubvectors, numCentroids)
//	_ = pq.Train(trainingVectors)
//	codes := pq.Encode(vector)
//	table := pq.BuildDistanceTable(query)
//	approxDist := pq.AdcDistance(table, codes)
package quantization

